// orchestrator.go — Orchestrator: конечный автомат обработки запроса resolve.
// Admission → разрешение идентификатора → кэш → (промах) загрузка → публикация →
// сохранение. Для одного идентификатора одновременно выполняется не более
// одной загрузки: работа после промаха сериализуется keyedLock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"

	"github.com/bigkaa/mediagate/internal/domain/model"
	"github.com/bigkaa/mediagate/internal/domain/pipeline"
)

// notifyTimeout — таймаут фонового уведомления о новой записи.
const notifyTimeout = 30 * time.Second

// Prometheus-метрики оркестратора.
var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mg_resolve_total",
		Help: "Запросы resolve по итогу обработки.",
	}, []string{"outcome"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mg_pipeline_transitions_total",
		Help: "Переходы конечного автомата (по целевому состоянию).",
	}, []string{"state"})

	inflightFetches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mg_inflight_fetches",
		Help: "Количество выполняющихся загрузок с публикацией.",
	})
)

// Publisher — публикация локального файла в blob host.
type Publisher interface {
	Publish(ctx context.Context, path string) (string, error)
}

// Notifier — уведомление о новой опубликованной записи.
type Notifier interface {
	NotifyPublished(ctx context.Context, rec *model.MediaRecord) error
}

// OrchestratorConfig — параметры оркестратора.
type OrchestratorConfig struct {
	// Async — при промахе сразу отвечать «processing» и продолжать в фоне
	Async bool
	// Workers — максимальное количество одновременных загрузок
	Workers int
}

// Orchestrator связывает Quota Ledger, Cache Store, Query Resolver,
// Fetcher и Publisher в один pipeline.
type Orchestrator struct {
	ledger    *QuotaLedger
	cache     *CacheStore
	resolver  *QueryResolver
	fetcher   *Fetcher
	publisher Publisher
	notifier  Notifier

	locks   *keyedLock
	workers *semaphore.Weighted
	async   bool
	bg      sync.WaitGroup
	logger  *slog.Logger
}

// NewOrchestrator создаёт оркестратор. notifier может быть nil.
func NewOrchestrator(
	ledger *QuotaLedger,
	cache *CacheStore,
	resolver *QueryResolver,
	fetcher *Fetcher,
	publisher Publisher,
	notifier Notifier,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		ledger:    ledger,
		cache:     cache,
		resolver:  resolver,
		fetcher:   fetcher,
		publisher: publisher,
		notifier:  notifier,
		locks:     newKeyedLock(),
		workers:   semaphore.NewWeighted(int64(cfg.Workers)),
		async:     cfg.Async,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// target — идентификатор, к которому разрешился запрос.
type target struct {
	id         string
	normalized string
	// fromText — запрос был свободным текстом (нужно отображение запроса)
	fromText bool
}

// Resolve обрабатывает запрос и возвращает результат или типизированную ошибку:
// *AuthError, ErrEmptyQuery, ErrNotFound, ErrUpstreamTimeout, ErrUpstreamFailure,
// ErrPublishFailure, ErrStorage.
//
// Отмена ctx прерывает только ожидание чужой загрузки: сама работа pipeline
// выполняется на контексте без отмены и ограничена таймаутом загрузки.
func (o *Orchestrator) Resolve(ctx context.Context, query, key string) (*model.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	tr := pipeline.NewTracker()
	decision := o.ledger.Admit(ctx, key)
	if !decision.Allowed {
		return nil, o.fail(tr, "denied", &AuthError{Reason: decision.Reason})
	}
	o.step(tr, pipeline.StateAdmitted)

	work := context.WithoutCancel(ctx)

	o.step(tr, pipeline.StateResolving)
	t, err := o.resolveTarget(work, query)
	if err != nil {
		return nil, o.fail(tr, outcomeOf(err), err)
	}

	o.step(tr, pipeline.StateCacheCheck)
	rec, err := o.cache.GetByID(work, t.id)
	if err != nil {
		return nil, o.fail(tr, outcomeOf(err), err)
	}
	if rec.HasLink() {
		return o.done(tr, "hit", model.ResultFromRecord(rec, true)), nil
	}

	if o.async {
		release, ok := o.locks.TryLock(t.id)
		if !ok {
			resolveTotal.WithLabelValues("pending").Inc()
			return &model.Result{ID: t.id, Pending: true}, nil
		}
		o.bg.Add(1)
		go func() {
			defer o.bg.Done()
			defer release()
			if _, err := o.runMiss(work, tr, t); err != nil {
				o.logger.Error("Фоновая обработка завершилась ошибкой",
					slog.String("media_id", t.id),
					slog.String("error", err.Error()),
				)
			}
		}()
		resolveTotal.WithLabelValues("pending").Inc()
		return &model.Result{ID: t.id, Pending: true}, nil
	}

	release, err := o.locks.Lock(ctx, t.id)
	if err != nil {
		return nil, o.fail(tr, "canceled", fmt.Errorf("ожидание загрузки %s прервано: %w", t.id, err))
	}
	defer release()

	return o.runMiss(work, tr, t)
}

// Shutdown ожидает завершения фоновых задач (async pipeline, уведомления).
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ожидание фоновых задач: %w", ctx.Err())
	}
}

// resolveTarget — этап RESOLVING: сохранённое отображение запроса, прямой
// идентификатор или Query Resolver с сохранением отображения и метаданных.
//
// Отображение проверяется до извлечения идентификатора: нижний регистр
// переводит часть не-ASCII символов в ASCII (K KELVIN SIGN → k), и запрос,
// ушедший в поиск, может совпасть по нормализованной форме с голым токеном.
// Сохранённое отображение для такой формы выигрывает у прямого извлечения.
func (o *Orchestrator) resolveTarget(ctx context.Context, query string) (target, error) {
	normalized := NormalizeQuery(query)
	id, found, err := o.cache.GetByQuery(ctx, normalized)
	if err != nil {
		return target{}, err
	}
	if found {
		return target{id: id, normalized: normalized, fromText: true}, nil
	}

	if id, ok := ExtractID(query); ok {
		return target{id: id}, nil
	}

	info, err := o.resolver.Resolve(ctx, query)
	if err != nil {
		return target{}, err
	}

	stored, err := o.cache.PutQueryMapping(ctx, normalized, info.ID)
	if err != nil {
		return target{}, err
	}
	if stored == info.ID {
		if _, err := o.cache.UpsertRecord(ctx, info.ToRecord()); err != nil {
			return target{}, err
		}
	}
	return target{id: stored, normalized: normalized, fromText: true}, nil
}

// runMiss — работа после промаха; вызывается под блокировкой идентификатора.
func (o *Orchestrator) runMiss(ctx context.Context, tr *pipeline.Tracker, t target) (*model.Result, error) {
	// Пока ждали блокировку, запись могла появиться
	rec, err := o.cache.GetByID(ctx, t.id)
	if err != nil {
		return nil, o.fail(tr, outcomeOf(err), err)
	}
	if rec.HasLink() {
		return o.done(tr, "hit", model.ResultFromRecord(rec, true)), nil
	}

	o.step(tr, pipeline.StateFetching)
	if err := o.workers.Acquire(ctx, 1); err != nil {
		return nil, o.fail(tr, "canceled", err)
	}
	inflightFetches.Inc()
	link, file, err := o.fetchAndPublish(ctx, tr, t.id)
	inflightFetches.Dec()
	o.workers.Release(1)
	if err != nil {
		return nil, o.fail(tr, outcomeOf(err), err)
	}

	o.step(tr, pipeline.StatePersisting)
	now := time.Now().UTC()
	upd := &model.MediaRecord{ID: t.id}
	if file.Info != nil && file.Info.ID == t.id {
		upd = file.Info.ToRecord()
	}
	upd.BlobLink = link
	upd.SizeBytes = file.Size
	upd.CachedAt = &now

	merged, err := o.cache.UpsertRecord(ctx, upd)
	if err != nil {
		return nil, o.fail(tr, outcomeOf(err), err)
	}
	if t.fromText {
		if _, err := o.cache.PutQueryMapping(ctx, t.normalized, t.id); err != nil {
			return nil, o.fail(tr, outcomeOf(err), err)
		}
	}

	o.notify(merged)
	return o.done(tr, "fetched", model.ResultFromRecord(merged, false)), nil
}

// fetchAndPublish — этапы FETCHING и PUBLISHING. Локальный файл удаляется
// после публикации при любом исходе.
func (o *Orchestrator) fetchAndPublish(ctx context.Context, tr *pipeline.Tracker, id string) (string, *LocalFile, error) {
	file, err := o.fetcher.Fetch(ctx, id)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		if rmErr := os.Remove(file.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			o.logger.Warn("Не удалось удалить временный файл",
				slog.String("path", file.Path),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	o.step(tr, pipeline.StatePublishing)
	link, err := o.publisher.Publish(ctx, file.Path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrPublishFailure, err)
	}
	return link, file, nil
}

// notify отправляет уведомление в фоне; ошибки только логируются.
func (o *Orchestrator) notify(rec *model.MediaRecord) {
	if o.notifier == nil {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.NotifyPublished(ctx, rec); err != nil {
			o.logger.Warn("Не удалось отправить уведомление",
				slog.String("media_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (o *Orchestrator) step(tr *pipeline.Tracker, s pipeline.State) {
	if err := tr.To(s); err != nil {
		o.logger.Error("Недопустимый переход pipeline", slog.String("error", err.Error()))
		return
	}
	transitionsTotal.WithLabelValues(string(s)).Inc()
}

func (o *Orchestrator) done(tr *pipeline.Tracker, outcome string, res *model.Result) *model.Result {
	o.step(tr, pipeline.StateDone)
	resolveTotal.WithLabelValues(outcome).Inc()
	o.logger.Debug("Запрос обработан",
		slog.String("media_id", res.ID),
		slog.String("outcome", outcome),
		slog.String("path", tr.Path()),
	)
	return res
}

func (o *Orchestrator) fail(tr *pipeline.Tracker, outcome string, err error) error {
	if ferr := tr.Fail(err.Error()); ferr == nil {
		transitionsTotal.WithLabelValues(string(pipeline.StateFailed)).Inc()
	}
	resolveTotal.WithLabelValues(outcome).Inc()
	o.logger.Debug("Запрос завершён ошибкой",
		slog.String("outcome", outcome),
		slog.String("path", tr.Path()),
		slog.String("error", err.Error()),
	)
	return err
}

// outcomeOf — метка метрики для ошибки pipeline.
func outcomeOf(err error) string {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		return "denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamTimeout):
		return "download_timeout"
	case errors.Is(err, ErrUpstreamFailure):
		return "download_failed"
	case errors.Is(err, ErrPublishFailure):
		return "upload_failed"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}
