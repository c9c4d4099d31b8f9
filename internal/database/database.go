// Пакет database — пул PostgreSQL для mediagate, встроенные миграции схемы
// (media_records, query_mappings, api_keys) и readiness-проверка.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/mediagate/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	applicationName = "mediagate"
	// Сколько раз повторяется ping при старте (PostgreSQL может подняться позже сервиса)
	connectAttempts = 5
	// Медленнее — readiness сообщает degraded
	slowPingThreshold = time.Second
)

// Connect открывает пул и дожидается доступности PostgreSQL.
// Размер пула не меньше 2×MG_WORKERS: admission держит строку ключа
// под FOR UPDATE, пока идут параллельные загрузки.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	if minConns := int32(cfg.Workers) * 2; poolCfg.MaxConns < minConns {
		poolCfg.MaxConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула: %w", err)
	}

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("PostgreSQL недоступен, повтор",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait),
		)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), connectAttempts-1), ctx)
	if err := backoff.RetryNotify(ping, policy, notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("подключение к PostgreSQL %s:%d: %w", cfg.DBHost, cfg.DBPort, err)
	}

	logger.Info("PostgreSQL подключён",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate доводит схему до последней встроенной версии.
// Повторный запуск на актуальной схеме ничего не делает.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("источник миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("инициализация миграций: %w", err)
	}
	defer m.Close()

	before, _, _ := m.Version()
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("Схема БД актуальна", slog.Uint64("version", uint64(before)))
		return nil
	case err != nil:
		return fmt.Errorf("применение миграций: %w", err)
	}

	after, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("from", uint64(before)),
		slog.Uint64("to", uint64(after)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// ReadinessChecker — readiness PostgreSQL для /health/ready.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady: fail — база или схема недоступны; degraded — медленный ответ
// или нет ни одного активного ключа (любой resolve получит 403); иначе ok.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	var activeKeys int64
	err := c.pool.QueryRow(ctx, `SELECT count(*) FROM api_keys WHERE active`).Scan(&activeKeys)
	elapsed := time.Since(start)
	if err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}

	switch {
	case activeKeys == 0:
		return "degraded", "нет активных API-ключей"
	case elapsed > slowPingThreshold:
		return "degraded", fmt.Sprintf("медленный ответ: %s", elapsed.Round(time.Millisecond))
	}
	return "ok", fmt.Sprintf("активных ключей: %d", activeKeys)
}
