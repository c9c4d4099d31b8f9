// resolver.go — Query Resolver: текст запроса → канонический идентификатор.
// Прямой идентификатор извлекается из строки без сетевых обращений,
// свободный текст уходит в поиск через egress-пул с повторами.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

var searchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mg_search_attempts_total",
	Help: "Попытки поиска (по результату).",
}, []string{"result"})

// Шаблоны прямого идентификатора. Служебные части сравниваются без учёта
// регистра: строки с одинаковой нормализованной формой либо обе прямые, либо обе нет.
var (
	bareIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	idRes    = []*regexp.Regexp{
		regexp.MustCompile(`(?i:[?&]v=)([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`),
		regexp.MustCompile(`(?i:youtu\.be/)([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`),
		regexp.MustCompile(`/(?i:shorts|embed|live)/([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`),
	}
	spacesRe = regexp.MustCompile(`\s+`)
)

// Searcher — внешняя возможность поиска: одно лучшее совпадение.
// Пустая выдача — model.ErrNoMatch.
type Searcher interface {
	Search(ctx context.Context, query, proxy string) (*model.MediaInfo, error)
}

// Egress — источник прокси для исходящих запросов.
type Egress interface {
	Next(ctx context.Context) string
	Evict()
}

// ExtractID извлекает канонический идентификатор из строки запроса:
// голый 11-символьный токен, параметр v=, youtu.be/, /shorts/, /embed/, /live/.
func ExtractID(query string) (string, bool) {
	q := strings.TrimSpace(query)
	if bareIDRe.MatchString(q) {
		return q, true
	}
	for _, re := range idRes {
		if m := re.FindStringSubmatch(q); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// NormalizeQuery приводит запрос к ключу отображения:
// обрезка, нижний регистр, схлопывание пробелов.
func NormalizeQuery(query string) string {
	return spacesRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(query)), " ")
}

// QueryResolver разрешает запросы в идентификаторы.
type QueryResolver struct {
	searcher Searcher
	egress   Egress
	limiter  *rate.Limiter
	group    singleflight.Group
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewQueryResolver создаёт резолвер. rps <= 0 — без ограничения частоты поиска.
func NewQueryResolver(
	searcher Searcher,
	egress Egress,
	attempts int,
	retryBackoff time.Duration,
	rps float64,
	logger *slog.Logger,
) *QueryResolver {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if attempts < 1 {
		attempts = 1
	}
	return &QueryResolver{
		searcher: searcher,
		egress:   egress,
		limiter:  rate.NewLimiter(limit, 1),
		attempts: attempts,
		backoff:  retryBackoff,
		logger:   logger.With(slog.String("component", "query_resolver")),
	}
}

// Resolve возвращает метаданные совпадения. Для прямого идентификатора
// заполнен только ID. Исчерпание попыток и пустая выдача — ErrNotFound.
func (r *QueryResolver) Resolve(ctx context.Context, query string) (*model.MediaInfo, error) {
	if id, ok := ExtractID(query); ok {
		return &model.MediaInfo{ID: id}, nil
	}

	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil, ErrNotFound
	}

	v, err, _ := r.group.Do(normalized, func() (any, error) {
		return r.search(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	info := *v.(*model.MediaInfo)
	return &info, nil
}

// search выполняет до r.attempts попыток с постоянной паузой между ними.
func (r *QueryResolver) search(ctx context.Context, query string) (*model.MediaInfo, error) {
	var (
		info    *model.MediaInfo
		attempt int
	)

	op := func() error {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		proxy := r.egress.Next(ctx)
		res, err := r.searcher.Search(ctx, query, proxy)
		switch {
		case err == nil && res != nil && res.ID != "":
			searchAttemptsTotal.WithLabelValues("ok").Inc()
			info = res
			return nil
		case errors.Is(err, model.ErrNoMatch), err == nil:
			searchAttemptsTotal.WithLabelValues("no_match").Inc()
			return backoff.Permanent(model.ErrNoMatch)
		}

		searchAttemptsTotal.WithLabelValues("error").Inc()
		if proxy != "" {
			r.egress.Evict()
		}
		r.logger.Warn("Попытка поиска не удалась",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", r.attempts),
			slog.Bool("proxied", proxy != ""),
			slog.String("error", err.Error()),
		)
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.backoff), uint64(r.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		if errors.Is(err, model.ErrNoMatch) {
			return nil, ErrNotFound
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("поиск прерван: %w", ctx.Err())
		}
		r.logger.Error("Поиск не дал результата после всех попыток",
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return nil, ErrNotFound
	}
	return info, nil
}
