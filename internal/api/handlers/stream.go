// stream.go — обработчик GET /api/v1/stream/{id}: редирект на текущую ссылку.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Stream — 302 на ссылку опубликованного контента или 404.
func (h *APIHandler) Stream(w http.ResponseWriter, r *http.Request) {
	link, err := h.streamer.Stream(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}
