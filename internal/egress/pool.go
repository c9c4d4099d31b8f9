package egress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// maxListSize — ограничение размера ответа провайдера списка.
const maxListSize = 4 << 20

// Prometheus-метрики пула.
var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mg_egress_refresh_total",
		Help: "Количество загрузок списка прокси у провайдера (по результату).",
	}, []string{"result"})

	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mg_egress_pool_size",
		Help: "Текущее количество прокси в пуле.",
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mg_egress_evictions_total",
		Help: "Количество сбросов пула по сигналу о сбое.",
	})
)

// ListSource — внешний провайдер списка прокси.
type ListSource interface {
	FetchList(ctx context.Context) ([]string, error)
}

// HTTPSource загружает построчный список прокси по HTTP GET.
type HTTPSource struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSource создаёт провайдер списка с таймаутом запроса.
func NewHTTPSource(listURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:        listURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchList загружает и разбирает список.
func (s *HTTPSource) FetchList(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("создание запроса списка прокси: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос списка прокси: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("провайдер списка прокси вернул статус %d", resp.StatusCode)
	}

	return ParseList(io.LimitReader(resp.Body, maxListSize)), nil
}

// Pool — набор egress-учётных данных, общий для всего процесса.
// Пустой пул означает «без прокси».
type Pool struct {
	source ListSource
	logger *slog.Logger

	mu      sync.Mutex
	entries []string

	intN func(n int) int
}

// NewPool создаёт пул. source == nil — функция отключена, Next всегда возвращает "".
func NewPool(source ListSource, logger *slog.Logger) *Pool {
	return &Pool{
		source: source,
		logger: logger.With(slog.String("component", "egress_pool")),
		intN:   rand.IntN,
	}
}

// Enabled сообщает, включён ли пул.
func (p *Pool) Enabled() bool {
	return p != nil && p.source != nil
}

// Next возвращает случайный прокси из пула или "".
// Пустой пул синхронно перезагружается у провайдера; ошибки провайдера
// только логируются и не передаются вызывающему.
func (p *Pool) Next(ctx context.Context) string {
	if !p.Enabled() {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 {
		p.refreshLocked(ctx)
	}
	if len(p.entries) == 0 {
		return ""
	}
	return p.entries[p.intN(len(p.entries))]
}

// Evict очищает пул целиком: следующий Next загрузит свежий список,
// а не выдаст ту же проблемную запись повторно.
func (p *Pool) Evict() {
	if !p.Enabled() {
		return
	}

	p.mu.Lock()
	n := len(p.entries)
	p.entries = nil
	p.mu.Unlock()

	poolSize.Set(0)
	if n > 0 {
		evictionsTotal.Inc()
		p.logger.Debug("Пул прокси сброшен", slog.Int("dropped", n))
	}
}

// Size возвращает текущее количество записей.
func (p *Pool) Size() int {
	if !p.Enabled() {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// refreshLocked загружает список у провайдера. Вызывается под p.mu.
func (p *Pool) refreshLocked(ctx context.Context) {
	entries, err := p.source.FetchList(ctx)
	if err != nil {
		refreshTotal.WithLabelValues("error").Inc()
		p.logger.Warn("Не удалось загрузить список прокси, работа без прокси",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(entries) == 0 {
		refreshTotal.WithLabelValues("empty").Inc()
		p.logger.Warn("Провайдер вернул пустой список прокси, работа без прокси")
		return
	}

	p.entries = entries
	poolSize.Set(float64(len(entries)))
	refreshTotal.WithLabelValues("ok").Inc()
	p.logger.Info("Список прокси загружен", slog.Int("count", len(entries)))
}
