// stream.go — StreamService: идентификатор → текущая ссылка для редиректа.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/mediagate/internal/telegram"
)

// LinkRefresher получает актуальный URL для короткоживущей ссылки-токена.
type LinkRefresher interface {
	RefreshLink(ctx context.Context, link string) (string, error)
}

// StreamService отдаёт ссылку на опубликованный контент.
type StreamService struct {
	cache     *CacheStore
	refresher LinkRefresher
	logger    *slog.Logger
}

// NewStreamService создаёт сервис. refresher может быть nil:
// тогда ссылки-токены считаются недоступными.
func NewStreamService(cache *CacheStore, refresher LinkRefresher, logger *slog.Logger) *StreamService {
	return &StreamService{
		cache:     cache,
		refresher: refresher,
		logger:    logger.With(slog.String("component", "stream_service")),
	}
}

// Stream возвращает URL для идентификатора или ErrNotFound.
// Ссылка вида tg://<file_id> обновляется при каждом обращении и не сохраняется.
func (s *StreamService) Stream(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrNotFound
	}

	rec, err := s.cache.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !rec.HasLink() {
		return "", ErrNotFound
	}
	if !telegram.IsTokenLink(rec.BlobLink) {
		return rec.BlobLink, nil
	}

	if s.refresher == nil {
		s.logger.Warn("Ссылка-токен без настроенного Telegram", slog.String("media_id", id))
		return "", ErrNotFound
	}
	link, err := s.refresher.RefreshLink(ctx, rec.BlobLink)
	if err != nil {
		s.logger.Warn("Не удалось обновить ссылку-токен",
			slog.String("media_id", id),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: ссылка %s недоступна", ErrNotFound, id)
	}
	return link, nil
}
