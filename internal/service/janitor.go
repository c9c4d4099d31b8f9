// janitor.go — фоновая очистка рабочего каталога Fetcher.
//
// Штатно временные файлы удаляются сразу после публикации. Janitor убирает
// то, что осталось после аварийного завершения процесса или убитого инструмента:
// файлы старше maxAge. maxAge больше таймаута загрузки, поэтому файлы
// выполняющихся загрузок не затрагиваются.
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики janitor.
var (
	janitorRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mg_janitor_runs_total",
		Help: "Количество запусков очистки рабочего каталога.",
	})

	janitorFilesRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mg_janitor_files_removed_total",
		Help: "Количество удалённых «осиротевших» временных файлов.",
	})
)

// JanitorResult — результат одного запуска.
type JanitorResult struct {
	// Removed — количество удалённых файлов
	Removed int
	// Errors — количество файлов, которые не удалось удалить
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Janitor периодически чистит рабочий каталог.
type Janitor struct {
	dir      string
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewJanitor создаёт janitor для каталога dir.
func NewJanitor(dir string, interval, maxAge time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		dir:      dir,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "janitor")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (j *Janitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.done = make(chan struct{})

	go j.run(runCtx)

	j.logger.Info("Janitor запущен",
		slog.String("dir", j.dir),
		slog.String("interval", j.interval.String()),
		slog.String("max_age", j.maxAge.String()),
	)
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
	j.logger.Info("Janitor остановлен")
}

func (j *Janitor) run(ctx context.Context) {
	defer close(j.done)

	// Первый запуск — сразу после старта
	j.RunOnce()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}

// RunOnce удаляет обычные файлы каталога, изменённые раньше now-maxAge.
// Подкаталоги не обходятся.
func (j *Janitor) RunOnce() *JanitorResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	result := &JanitorResult{}
	janitorRunsTotal.Inc()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			j.logger.Error("Janitor: ошибка чтения каталога",
				slog.String("dir", j.dir),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
		return result
	}

	cutoff := j.now().Add(-j.maxAge)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(j.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			j.logger.Error("Janitor: ошибка удаления файла",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			result.Errors++
			continue
		}
		j.logger.Debug("Janitor: файл удалён", slog.String("path", path))
		result.Removed++
	}

	result.Duration = time.Since(start)
	janitorFilesRemovedTotal.Add(float64(result.Removed))
	if result.Removed > 0 || result.Errors > 0 {
		j.logger.Info("Janitor завершён",
			slog.Int("removed", result.Removed),
			slog.Int("errors", result.Errors),
			slog.Duration("duration", result.Duration),
		)
	}
	return result
}
