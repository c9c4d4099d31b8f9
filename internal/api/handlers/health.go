// health.go — health endpoints mediagate.
// /health/live — процесс жив
// /health/ready — PostgreSQL (критично) и blob host по данным topologymetrics
// (некритично: кэш-хиты обслуживаются и без него), плюс размеры кэша и egress-пула
// /metrics — Prometheus
package handlers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/mediagate/internal/config"
)

const serviceName = "mediagate"

// Константы статусов health check.
const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusFail     = "fail"
)

// ReadinessChecker — проверка готовности критичной зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "degraded", "fail") и сообщение.
	CheckReady() (status, message string)
}

// DependencyReporter — последние результаты фоновых проверок зависимостей
// (service.DephealthService). Ключ — имя зависимости.
type DependencyReporter interface {
	Health() map[string]bool
}

// HealthDeps — источники данных readiness. Любое поле может быть nil.
type HealthDeps struct {
	Postgres     ReadinessChecker
	Dependencies DependencyReporter
	CacheEntries func() int
	EgressSize   func() int
}

// HealthHandler — обработчик health endpoints.
type HealthHandler struct {
	deps        HealthDeps
	promHandler http.Handler
}

// NewHealthHandler создаёт обработчик health endpoints.
// Без Postgres readiness всегда fail.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	return &HealthHandler{
		deps:        deps,
		promHandler: promhttp.Handler(),
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

type healthReadyResponse struct {
	Status       string                       `json:"status"`
	Timestamp    string                       `json:"timestamp"`
	Version      string                       `json:"version"`
	Service      string                       `json:"service"`
	CacheEntries int                          `json:"cache_entries"`
	EgressPool   int                          `json:"egress_pool"`
	Checks       map[string]healthCheckResult `json:"checks"`
}

// HealthLive — liveness probe, всегда 200.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	})
}

// HealthReady — readiness probe: 200 (ok/degraded) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
		Checks:    make(map[string]healthCheckResult),
	}

	pg := healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	if h.deps.Postgres != nil {
		pg.Status, pg.Message = h.deps.Postgres.CheckReady()
	}
	resp.Checks["postgresql"] = pg
	statuses := []string{pg.Status}

	// Результат topologymetrics по PostgreSQL дублирует прямую проверку,
	// в readiness попадают остальные зависимости, не выше degraded.
	if h.deps.Dependencies != nil {
		for name, healthy := range h.deps.Dependencies.Health() {
			if name == "postgresql" {
				continue
			}
			res := healthCheckResult{Status: statusOK}
			if !healthy {
				res = healthCheckResult{Status: statusDegraded, Message: "последняя проверка неуспешна"}
			}
			resp.Checks[name] = res
			statuses = append(statuses, res.Status)
		}
	}

	if h.deps.CacheEntries != nil {
		resp.CacheEntries = h.deps.CacheEntries()
	}
	if h.deps.EgressSize != nil {
		resp.EgressPool = h.deps.EgressSize()
	}

	resp.Status = overallStatus(statuses...)
	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// GetMetrics — Prometheus метрики.
func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

// overallStatus: хотя бы одна fail — fail, хотя бы одна degraded — degraded, иначе ok.
func overallStatus(statuses ...string) string {
	hasDegraded := false
	for _, s := range statuses {
		if s == statusFail {
			return statusFail
		}
		if s == statusDegraded {
			hasDegraded = true
		}
	}
	if hasDegraded {
		return statusDegraded
	}
	return statusOK
}
