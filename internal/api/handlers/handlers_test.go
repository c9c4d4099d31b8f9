package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/mediagate/internal/api/errors"
	"github.com/bigkaa/mediagate/internal/api/middleware"
	"github.com/bigkaa/mediagate/internal/domain/model"
	"github.com/bigkaa/mediagate/internal/service"
)

// --- Фейки сервисного слоя ---

type fakeResolver struct {
	fn       func(ctx context.Context, query, key string) (*model.Result, error)
	gotQuery string
	gotKey   string
}

func (f *fakeResolver) Resolve(ctx context.Context, query, key string) (*model.Result, error) {
	f.gotQuery, f.gotKey = query, key
	return f.fn(ctx, query, key)
}

type fakeStats struct {
	fn func(ctx context.Context, key string) (*model.QuotaStats, error)
}

func (f *fakeStats) Stats(ctx context.Context, key string) (*model.QuotaStats, error) {
	return f.fn(ctx, key)
}

type fakeStreamer struct {
	fn func(ctx context.Context, id string) (string, error)
}

func (f *fakeStreamer) Stream(ctx context.Context, id string) (string, error) {
	return f.fn(ctx, id)
}

type fakeChecker struct{ status, message string }

func (f fakeChecker) CheckReady() (string, string) { return f.status, f.message }

type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

func sizeOf(n int) func() int { return func() int { return n } }

func newTestRouter(r *fakeResolver, s *fakeStats, st *fakeStreamer, health *HealthHandler) http.Handler {
	if health == nil {
		health = NewHealthHandler(HealthDeps{Postgres: fakeChecker{status: statusOK}})
	}
	h := NewAPIHandler(r, s, st, health, slog.New(slog.NewTextHandler(io.Discard, nil)))
	router := chi.NewRouter()
	router.Use(middleware.APIKey())
	h.Routes(router)
	return router
}

func doGet(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Ошибка разбора JSON %q: %v", rec.Body.String(), err)
	}
	return body
}

// --- resolve ---

func TestResolve_Success(t *testing.T) {
	r := &fakeResolver{fn: func(context.Context, string, string) (*model.Result, error) {
		return &model.Result{
			ID:        "dQw4w9WgXcQ",
			Title:     "Song",
			Duration:  "3:33",
			Link:      "https://files.catbox.moe/abc.mp4",
			Thumbnail: "https://i.ytimg.com/vi/dQw4w9WgXcQ/hqdefault.jpg",
			Cached:    true,
		}, nil
	}}
	h := newTestRouter(r, nil, nil, nil)

	rec := doGet(t, h, "/api/v1/resolve?query=never+gonna&key=k1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200; тело: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != float64(200) || body["id"] != "dQw4w9WgXcQ" || body["cached"] != true {
		t.Errorf("тело = %v", body)
	}
	if body["link"] != "https://files.catbox.moe/abc.mp4" || body["duration"] != "3:33" {
		t.Errorf("тело = %v", body)
	}
	if r.gotQuery != "never gonna" || r.gotKey != "k1" {
		t.Errorf("Resolve получил query=%q key=%q", r.gotQuery, r.gotKey)
	}
}

func TestResolve_LegacyPathAndHeaderKey(t *testing.T) {
	r := &fakeResolver{fn: func(context.Context, string, string) (*model.Result, error) {
		return &model.Result{ID: "x"}, nil
	}}
	h := newTestRouter(r, nil, nil, nil)

	rec := doGet(t, h, "/getvideo?query=abc&key=from-query", map[string]string{middleware.HeaderAPIKey: "from-header"})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	if r.gotKey != "from-header" {
		t.Errorf("ключ = %q, ожидается from-header", r.gotKey)
	}
}

func TestResolve_Pending(t *testing.T) {
	r := &fakeResolver{fn: func(context.Context, string, string) (*model.Result, error) {
		return &model.Result{ID: "dQw4w9WgXcQ", Pending: true}, nil
	}}
	h := newTestRouter(r, nil, nil, nil)

	rec := doGet(t, h, "/api/v1/resolve?query=x&key=k", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("статус = %d, ожидается 202", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "processing" || body["id"] != "dQw4w9WgXcQ" {
		t.Errorf("тело = %v", body)
	}
}

func TestResolve_EmptyQueryNotForwarded(t *testing.T) {
	r := &fakeResolver{fn: func(context.Context, string, string) (*model.Result, error) {
		t.Error("Resolve не должен вызываться без query")
		return nil, nil
	}}
	h := newTestRouter(r, nil, nil, nil)

	rec := doGet(t, h, "/api/v1/resolve?query=%20%20&key=k", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, ожидается 400", rec.Code)
	}
}

func TestResolve_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"неверный ключ", &service.AuthError{Reason: service.ReasonInvalidKey}, http.StatusForbidden, service.ReasonInvalidKey},
		{"лимит", fmt.Errorf("admission: %w", &service.AuthError{Reason: service.ReasonLimitReached}), http.StatusForbidden, service.ReasonLimitReached},
		{"пустой запрос", service.ErrEmptyQuery, http.StatusBadRequest, ""},
		{"не найдено", service.ErrNotFound, http.StatusNotFound, ""},
		{"таймаут загрузки", fmt.Errorf("fetch: %w", service.ErrUpstreamTimeout), http.StatusRequestTimeout, service.ErrUpstreamTimeout.Error()},
		{"ошибка загрузки", service.ErrUpstreamFailure, http.StatusInternalServerError, service.ErrUpstreamFailure.Error()},
		{"ошибка публикации", service.ErrPublishFailure, http.StatusInternalServerError, service.ErrPublishFailure.Error()},
		{"хранилище", fmt.Errorf("%w: get: conn refused", service.ErrStorage), http.StatusInternalServerError, service.ErrStorage.Error()},
		{"прочее", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeResolver{fn: func(context.Context, string, string) (*model.Result, error) {
				return nil, tt.err
			}}
			h := newTestRouter(r, nil, nil, nil)

			rec := doGet(t, h, "/api/v1/resolve?query=abc&key=k", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["status"] != float64(tt.wantCode) {
				t.Errorf("status в теле = %v", body["status"])
			}
			if tt.wantErr != "" && body["error"] != tt.wantErr {
				t.Errorf("error = %v, ожидается %q", body["error"], tt.wantErr)
			}
		})
	}
}

func TestResolve_ClientGoneIsNotAnError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := &fakeResolver{fn: func(context.Context, string, string) (*model.Result, error) {
		return nil, fmt.Errorf("ожидание загрузки dQw4w9WgXcQ прервано: %w", context.Canceled)
	}}
	h := NewAPIHandler(r, nil, nil, NewHealthHandler(HealthDeps{}), logger)
	router := chi.NewRouter()
	h.Routes(router)

	rec := doGet(t, router, "/api/v1/resolve?query=dQw4w9WgXcQ&key=k", nil)
	if rec.Code != apierrors.StatusClientClosedRequest {
		t.Errorf("статус = %d, ожидается %d", rec.Code, apierrors.StatusClientClosedRequest)
	}
	out := buf.String()
	if strings.Contains(out, "level=ERROR") {
		t.Errorf("отключение клиента залогировано как ошибка: %s", out)
	}
	if !strings.Contains(out, "level=DEBUG") {
		t.Errorf("нет debug-записи об отключении клиента: %s", out)
	}
}

// --- stats ---

func TestStats(t *testing.T) {
	s := &fakeStats{fn: func(_ context.Context, key string) (*model.QuotaStats, error) {
		if key != "k1" {
			return nil, &service.AuthError{Reason: service.ReasonInvalidKey}
		}
		return &model.QuotaStats{
			Owner: "alice", Plan: "pro", DailyLimit: 100, UsedToday: 40, Remaining: 60, TotalUsage: 1234,
		}, nil
	}}
	h := newTestRouter(nil, s, nil, nil)

	rec := doGet(t, h, "/api/v1/stats", map[string]string{middleware.HeaderAPIKey: "k1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["owner"] != "alice" || body["remaining"] != float64(60) || body["total_usage"] != float64(1234) {
		t.Errorf("тело = %v", body)
	}

	rec = doGet(t, h, "/api/v1/stats?key=bad", nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("статус для неверного ключа = %d, ожидается 403", rec.Code)
	}
}

// --- stream ---

func TestStream(t *testing.T) {
	st := &fakeStreamer{fn: func(_ context.Context, id string) (string, error) {
		if id == "dQw4w9WgXcQ" {
			return "https://files.catbox.moe/abc.mp4", nil
		}
		return "", service.ErrNotFound
	}}
	h := newTestRouter(nil, nil, st, nil)

	rec := doGet(t, h, "/api/v1/stream/dQw4w9WgXcQ", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("статус = %d, ожидается 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://files.catbox.moe/abc.mp4" {
		t.Errorf("Location = %q", loc)
	}

	rec = doGet(t, h, "/api/v1/stream/unknown", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидается 404", rec.Code)
	}
}

// --- health ---

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		deps       DependencyReporter
		wantCode   int
		wantStatus string
	}{
		{"ok", fakeChecker{status: statusOK}, fakeDeps{"postgresql": true, "blob-host": true}, http.StatusOK, statusOK},
		{"degraded postgres", fakeChecker{status: statusDegraded, message: "медленно"}, nil, http.StatusOK, statusDegraded},
		{"blob host недоступен", fakeChecker{status: statusOK}, fakeDeps{"blob-host": false}, http.StatusOK, statusDegraded},
		{"fail", fakeChecker{status: statusFail, message: "нет соединения"}, fakeDeps{"blob-host": true}, http.StatusServiceUnavailable, statusFail},
		{"без checker", nil, nil, http.StatusServiceUnavailable, statusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := NewHealthHandler(HealthDeps{
				Postgres:     tt.checker,
				Dependencies: tt.deps,
				CacheEntries: sizeOf(7),
				EgressSize:   sizeOf(3),
			})
			h := newTestRouter(nil, nil, nil, health)
			rec := doGet(t, h, "/health/ready", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantCode)
			}
			body := decodeBody(t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, ожидается %q", body["status"], tt.wantStatus)
			}
			if body["cache_entries"] != float64(7) || body["egress_pool"] != float64(3) {
				t.Errorf("cache_entries = %v, egress_pool = %v", body["cache_entries"], body["egress_pool"])
			}
			checks, _ := body["checks"].(map[string]any)
			if _, ok := checks["postgresql"]; !ok {
				t.Errorf("нет проверки postgresql: %v", checks)
			}
		})
	}
}

func TestHealthLive(t *testing.T) {
	h := newTestRouter(nil, nil, nil, nil)
	rec := doGet(t, h, "/health/live", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != serviceName || body["status"] != statusOK {
		t.Errorf("тело = %v", body)
	}
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{[]string{statusOK}, statusOK},
		{[]string{statusOK, statusDegraded}, statusDegraded},
		{[]string{statusDegraded, statusFail}, statusFail},
		{nil, statusOK},
	}
	for _, tt := range tests {
		if got := overallStatus(tt.in...); got != tt.want {
			t.Errorf("overallStatus(%v) = %q, ожидается %q", tt.in, got, tt.want)
		}
	}
}
