// Пакет model — доменные модели mediagate.
package model

import (
	"fmt"
	"math"
	"time"
)

// ThumbnailURLTemplate — производный адрес превью, если источник его не вернул.
const ThumbnailURLTemplate = "https://i.ytimg.com/vi/%s/hqdefault.jpg"

// ZeroDuration — длительность, подставляемая при неполных метаданных.
const ZeroDuration = "0:00"

// MediaRecord — медиа-запись по каноническому идентификатору.
// Запись без BlobLink означает «известна, но ещё не загружена».
// Пустые строковые поля и нулевой SizeBytes означают «значение отсутствует»:
// при upsert они не затирают уже сохранённые данные.
type MediaRecord struct {
	ID        string
	Title     string
	Duration  string
	Thumbnail string
	BlobLink  string
	SizeBytes int64
	CachedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLink сообщает, опубликован ли контент.
func (r *MediaRecord) HasLink() bool {
	return r != nil && r.BlobLink != ""
}

// DisplayTitle возвращает заголовок или placeholder вида "media <id>".
func (r *MediaRecord) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return PlaceholderTitle(r.ID)
}

// DisplayDuration возвращает длительность или "0:00".
func (r *MediaRecord) DisplayDuration() string {
	if r.Duration != "" {
		return r.Duration
	}
	return ZeroDuration
}

// DisplayThumbnail возвращает превью или производный URL.
func (r *MediaRecord) DisplayThumbnail() string {
	if r.Thumbnail != "" {
		return r.Thumbnail
	}
	return DefaultThumbnail(r.ID)
}

// PlaceholderTitle — заголовок для записи без метаданных.
func PlaceholderTitle(id string) string {
	return "media " + id
}

// DefaultThumbnail — детерминированный адрес превью по идентификатору.
func DefaultThumbnail(id string) string {
	return fmt.Sprintf(ThumbnailURLTemplate, id)
}

// FormatDuration приводит длительность в секундах к виду m:ss или h:mm:ss.
// Неположительные и нечисловые значения дают "0:00".
func FormatDuration(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ZeroDuration
	}
	total := int64(math.Round(seconds))
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// QueryMapping — нормализованный запрос → идентификатор.
type QueryMapping struct {
	Query     string
	MediaID   string
	CreatedAt time.Time
}

// Result — итог обработки запроса resolve.
// Pending=true — контент ещё готовится (политика async), остальные поля пусты.
type Result struct {
	ID        string
	Title     string
	Duration  string
	Link      string
	Thumbnail string
	Cached    bool
	Pending   bool
}

// ResultFromRecord собирает Result из сохранённой записи с подстановкой fallback-значений.
func ResultFromRecord(r *MediaRecord, cached bool) *Result {
	return &Result{
		ID:        r.ID,
		Title:     r.DisplayTitle(),
		Duration:  r.DisplayDuration(),
		Link:      r.BlobLink,
		Thumbnail: r.DisplayThumbnail(),
		Cached:    cached,
	}
}
