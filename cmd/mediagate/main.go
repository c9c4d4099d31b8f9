// main.go — точка входа mediagate.
// Инициализация: config → logger → migrations → PostgreSQL → сервисы → HTTP-сервер.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/mediagate/internal/api/handlers"
	"github.com/bigkaa/mediagate/internal/api/middleware"
	"github.com/bigkaa/mediagate/internal/blobclient"
	"github.com/bigkaa/mediagate/internal/config"
	"github.com/bigkaa/mediagate/internal/database"
	"github.com/bigkaa/mediagate/internal/egress"
	"github.com/bigkaa/mediagate/internal/repository"
	"github.com/bigkaa/mediagate/internal/server"
	"github.com/bigkaa/mediagate/internal/service"
	"github.com/bigkaa/mediagate/internal/telegram"
	"github.com/bigkaa/mediagate/internal/ytclient"
)

// Таймаут HTTP-вызовов Telegram Bot API.
const telegramTimeout = 30 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("mediagate запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("miss_policy", cfg.MissPolicy),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Репозитории
	mediaRepo := repository.NewMediaRepository(pool)
	keyRepo := repository.NewAPIKeyRepository(pool, repository.NewTxRunner(pool))

	// 6. Quota Ledger и Cache Store
	ledger := service.NewQuotaLedger(keyRepo, cfg.QuotaLocation, logger)
	cache := service.NewCacheStore(mediaRepo, cfg.CacheMaxSize, cfg.CacheTTL)

	// 7. Egress Pool (пустой источник — прямые соединения)
	var source egress.ListSource
	if cfg.EgressEnabled {
		source = egress.NewHTTPSource(cfg.EgressListURL, cfg.EgressRefreshTimeout)
	}
	egressPool := egress.NewPool(source, logger)

	// 8. yt-dlp: поиск и загрузка
	yt := ytclient.New(cfg.FetchFormat, cfg.CookiesPath, logger)
	resolver := service.NewQueryResolver(yt, egressPool, cfg.ResolveAttempts, cfg.ResolveBackoff, cfg.SearchRPS, logger)
	fetcher := service.NewFetcher(yt, egressPool, service.FetcherConfig{
		Attempts: cfg.FetchAttempts,
		Timeout:  cfg.FetchTimeout,
		Backoff:  cfg.FetchBackoff,
		MinSize:  cfg.FetchMinSize,
		WorkDir:  cfg.WorkDir,
	}, logger)

	// 9. Blob host
	publisher := blobclient.New(cfg.BlobUploadURL, cfg.BlobUserHash, cfg.BlobTimeout, logger)

	// 10. Telegram (опционально): уведомления и обновление ссылок-токенов
	var (
		notifier  service.Notifier
		refresher service.LinkRefresher
	)
	if cfg.TelegramEnabled() {
		tg := telegram.New(cfg.TelegramAPIURL, cfg.TelegramBotToken, cfg.TelegramLogChatID, telegramTimeout, logger)
		notifier = tg
		refresher = tg
		logger.Info("Telegram Bot API включён")
	} else {
		logger.Info("Telegram Bot API отключён (MG_TELEGRAM_BOT_TOKEN не задан)")
	}

	// 11. Оркестратор и stream
	orchestrator := service.NewOrchestrator(
		ledger, cache, resolver, fetcher, publisher, notifier,
		service.OrchestratorConfig{
			Async:   cfg.MissPolicy == config.MissPolicyAsync,
			Workers: cfg.Workers,
		},
		logger,
	)
	streamSvc := service.NewStreamService(cache, refresher, logger)

	// 12. Janitor временных файлов
	janitor := service.NewJanitor(cfg.WorkDir, cfg.JanitorInterval, cfg.JanitorMaxAge, logger)
	janitor.Start(ctx)

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + blob host)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "mediagate",
		Group:         cfg.DephealthGroup,
		PGConnURL:     cfg.DatabaseURL(),
		BlobUploadURL: cfg.BlobUploadURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. HTTP handlers
	healthDeps := handlers.HealthDeps{
		Postgres:     database.NewReadinessChecker(pool),
		CacheEntries: cache.Len,
		EgressSize:   egressPool.Size,
	}
	if dephealthSvc != nil {
		healthDeps.Dependencies = dephealthSvc
	}
	healthHandler := handlers.NewHealthHandler(healthDeps)
	apiHandler := handlers.NewAPIHandler(orchestrator, ledger, streamSvc, healthHandler, logger)

	// 15. Создание и запуск HTTP-сервера
	// APIKey до логгера: access-лог отмечает наличие ключа
	srv := server.New(cfg, logger, apiHandler.Routes,
		chimw.RequestID,
		middleware.APIKey(),
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// 16. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Фоновые загрузки не завершились", slog.String("error", err.Error()))
	}
	janitor.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("mediagate остановлен")
}
