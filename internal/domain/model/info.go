package model

import "errors"

// ErrNoMatch — поиск отработал, но не нашёл ни одного результата.
// Повторять такой запрос через другой прокси бессмысленно.
var ErrNoMatch = errors.New("по запросу ничего не найдено")

// MediaInfo — метаданные, полученные от внешнего инструмента
// (поиск или retrieval). Любое поле, кроме ID, может быть пустым.
type MediaInfo struct {
	ID        string
	Title     string
	// DurationSec — длительность в секундах (0 — неизвестна)
	DurationSec float64
	Thumbnail   string
}

// ToRecord превращает метаданные в запись для merge-upsert.
// Отсутствующие значения остаются пустыми и не затирают сохранённые.
func (i *MediaInfo) ToRecord() *MediaRecord {
	rec := &MediaRecord{
		ID:        i.ID,
		Title:     i.Title,
		Thumbnail: i.Thumbnail,
	}
	if i.DurationSec > 0 {
		rec.Duration = FormatDuration(i.DurationSec)
	}
	return rec
}
