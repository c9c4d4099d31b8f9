// handler.go — основной обработчик HTTP API mediagate.
// Регистрирует маршруты в chi и отображает ошибки сервисного слоя в HTTP-статусы.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/mediagate/internal/api/errors"
	"github.com/bigkaa/mediagate/internal/domain/model"
	"github.com/bigkaa/mediagate/internal/service"
)

// Resolver — обработка запроса resolve (service.Orchestrator).
type Resolver interface {
	Resolve(ctx context.Context, query, key string) (*model.Result, error)
}

// StatsProvider — read-only проекция квоты (service.QuotaLedger).
type StatsProvider interface {
	Stats(ctx context.Context, key string) (*model.QuotaStats, error)
}

// Streamer — идентификатор → текущая ссылка (service.StreamService).
type Streamer interface {
	Stream(ctx context.Context, id string) (string, error)
}

// APIHandler — обработчик HTTP API.
type APIHandler struct {
	resolver Resolver
	stats    StatsProvider
	streamer Streamer
	health   *HealthHandler
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	resolver Resolver,
	stats StatsProvider,
	streamer Streamer,
	health *HealthHandler,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		resolver: resolver,
		stats:    stats,
		streamer: streamer,
		health:   health,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// Routes регистрирует маршруты API.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Get("/api/v1/resolve", h.Resolve)
	r.Get("/api/v1/stats", h.Stats)
	r.Get("/api/v1/stream/{id}", h.Stream)

	// Совместимость со старыми клиентами
	r.Get("/getvideo", h.Resolve)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *service.AuthError
	switch {
	case errors.As(err, &authErr):
		apierrors.Forbidden(w, authErr.Reason)
	case errors.Is(err, service.ErrEmptyQuery):
		apierrors.ValidationError(w, "query is required")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "not found")
	case errors.Is(err, service.ErrUpstreamTimeout):
		apierrors.UpstreamTimeout(w, service.ErrUpstreamTimeout.Error())
	case errors.Is(err, service.ErrUpstreamFailure):
		apierrors.DownloadFailed(w, service.ErrUpstreamFailure.Error())
	case errors.Is(err, service.ErrPublishFailure):
		apierrors.UploadFailed(w, service.ErrPublishFailure.Error())
	case errors.Is(err, context.Canceled):
		h.logger.Debug("Клиент отключился до ответа",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.ClientClosed(w)
	case errors.Is(err, service.ErrStorage):
		h.logger.Error("Ошибка хранилища",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.StorageError(w, service.ErrStorage.Error())
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "internal error")
	}
}
