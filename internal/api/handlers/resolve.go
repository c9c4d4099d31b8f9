// resolve.go — обработчики GET /api/v1/resolve, GET /getvideo и GET /api/v1/stats.
package handlers

import (
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/mediagate/internal/api/errors"
	"github.com/bigkaa/mediagate/internal/api/middleware"
)

// resolveResponse — успешный ответ resolve.
type resolveResponse struct {
	Status    int    `json:"status"`
	Title     string `json:"title"`
	Duration  string `json:"duration"`
	Link      string `json:"link"`
	ID        string `json:"id"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Cached    bool   `json:"cached"`
}

// pendingResponse — ответ при политике async: контент ещё готовится.
type pendingResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// statsResponse — проекция квоты ключа.
type statsResponse struct {
	Owner      string `json:"owner"`
	Plan       string `json:"plan"`
	DailyLimit int    `json:"daily_limit"`
	UsedToday  int    `json:"used_today"`
	Remaining  int    `json:"remaining"`
	TotalUsage int64  `json:"total_usage"`
}

// Resolve — GET /api/v1/resolve?query=...&key=...
// Ключ также принимается в заголовке X-API-Key.
func (h *APIHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		apierrors.ValidationError(w, "query is required")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), query, middleware.APIKeyFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if res.Pending {
		writeJSON(w, http.StatusAccepted, pendingResponse{
			Status:  http.StatusAccepted,
			Message: "processing",
			ID:      res.ID,
		})
		return
	}

	writeJSON(w, http.StatusOK, resolveResponse{
		Status:    http.StatusOK,
		Title:     res.Title,
		Duration:  res.Duration,
		Link:      res.Link,
		ID:        res.ID,
		Thumbnail: res.Thumbnail,
		Cached:    res.Cached,
	})
}

// Stats — GET /api/v1/stats?key=...
func (h *APIHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Stats(r.Context(), middleware.APIKeyFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Owner:      st.Owner,
		Plan:       st.Plan,
		DailyLimit: st.DailyLimit,
		UsedToday:  st.UsedToday,
		Remaining:  st.Remaining,
		TotalUsage: st.TotalUsage,
	})
}
