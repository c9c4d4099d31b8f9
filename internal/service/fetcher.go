// fetcher.go — Fetcher: загрузка контента по идентификатору во временный файл.
// Повторы с экспоненциальной паузой, ротация egress, жёсткий таймаут на попытку.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/mediagate/internal/domain/model"
)

// Prometheus-метрики загрузки.
var (
	fetchAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mg_fetch_attempts_total",
		Help: "Попытки загрузки (по результату).",
	}, []string{"result"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mg_fetch_duration_seconds",
		Help:    "Длительность успешной загрузки, включая повторы.",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 900},
	})
)

// Retriever — внешний инструмент загрузки: одна попытка записи id в outPath.
// Возвращаемые метаданные best-effort и могут быть nil.
type Retriever interface {
	AttemptFetch(ctx context.Context, id, proxy, outPath string) (*model.MediaInfo, error)
}

// LocalFile — результат успешной загрузки. Удаление файла — забота вызывающего.
type LocalFile struct {
	Path string
	Size int64
	Info *model.MediaInfo
}

// FetcherConfig — параметры Fetcher.
type FetcherConfig struct {
	// Attempts — максимальное количество попыток
	Attempts int
	// Timeout — жёсткий таймаут одной попытки
	Timeout time.Duration
	// Backoff — начальная пауза между попытками (удваивается)
	Backoff time.Duration
	// MinSize — минимальный правдоподобный размер файла в байтах
	MinSize int64
	// WorkDir — каталог временных файлов
	WorkDir string
}

// Fetcher загружает контент через Retriever.
type Fetcher struct {
	retriever Retriever
	egress    Egress
	cfg       FetcherConfig
	logger    *slog.Logger
}

// NewFetcher создаёт Fetcher.
func NewFetcher(retriever Retriever, egress Egress, cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Fetcher{
		retriever: retriever,
		egress:    egress,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "fetcher")),
	}
}

// Fetch загружает id во временный файл. После исчерпания попыток возвращает
// ErrUpstreamTimeout (последняя попытка упёрлась в таймаут) или ErrUpstreamFailure.
func (f *Fetcher) Fetch(ctx context.Context, id string) (*LocalFile, error) {
	start := time.Now()
	if err := os.MkdirAll(f.cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: создание рабочего каталога: %v", ErrUpstreamFailure, err)
	}

	var (
		result   *LocalFile
		attempt  int
		timedOut bool
	)

	op := func() error {
		attempt++
		file, err := f.attempt(ctx, id)
		if err == nil {
			result = file
			return nil
		}

		timedOut = errors.Is(err, context.DeadlineExceeded)
		label := "error"
		if timedOut {
			label = "timeout"
		}
		fetchAttemptsTotal.WithLabelValues(label).Inc()
		f.logger.Warn("Попытка загрузки не удалась",
			slog.String("media_id", id),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", f.cfg.Attempts),
			slog.String("error", err.Error()),
		)
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.cfg.Backoff
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.cfg.Attempts-1)), ctx)

	if err := backoff.Retry(op, b); err != nil {
		f.logger.Error("Загрузка не удалась после всех попыток",
			slog.String("media_id", id),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		if timedOut {
			return nil, fmt.Errorf("%w: %s", ErrUpstreamTimeout, id)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamFailure, id, err)
	}

	fetchAttemptsTotal.WithLabelValues("ok").Inc()
	fetchDuration.Observe(time.Since(start).Seconds())
	f.logger.Info("Контент загружен",
		slog.String("media_id", id),
		slog.Int64("size", result.Size),
		slog.Int("attempts", attempt),
	)
	return result, nil
}

// attempt — одна попытка: свежее имя файла, прокси из пула, таймаут.
// Любой неуспех удаляет частичный вывод.
func (f *Fetcher) attempt(ctx context.Context, id string) (*LocalFile, error) {
	outPath := filepath.Join(f.cfg.WorkDir, uuid.NewString()+".mp4")
	proxy := f.egress.Next(ctx)

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	info, err := f.retriever.AttemptFetch(attemptCtx, id, proxy, outPath)
	if err == nil {
		var size int64
		size, err = fileSize(outPath)
		if err == nil && size < f.cfg.MinSize {
			err = fmt.Errorf("файл слишком мал: %d байт (минимум %d)", size, f.cfg.MinSize)
		}
		if err == nil {
			return &LocalFile{Path: outPath, Size: size, Info: info}, nil
		}
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	removePartial(outPath)
	if proxy != "" {
		f.egress.Evict()
	}
	return nil, err
}

// fileSize возвращает размер обычного файла.
func fileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("выходной файл не создан: %w", err)
	}
	if !st.Mode().IsRegular() {
		return 0, fmt.Errorf("выходной путь не является файлом: %s", path)
	}
	return st.Size(), nil
}

// removePartial удаляет выходной файл и побочные файлы инструмента
// (<uuid>.mp4.part, <uuid>.f137.mp4 и т.п.).
func removePartial(outPath string) {
	_ = os.Remove(outPath)
	matches, _ := filepath.Glob(strings.TrimSuffix(outPath, filepath.Ext(outPath)) + ".*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
