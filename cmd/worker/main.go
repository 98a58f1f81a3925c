// Package main - точка входа для фонового процесса (Worker) Klypt Class Hub.
//
// Worker отвечает за периодические задачи:
// - Синхронизация локального хранилища классов со шлюзом (pull + push)
// - Компактация встроенного хранилища документов
// - Детектирование классов, давно не проходивших синхронизацию
//
// Хаб спроектирован offline-first: шлюз может быть недоступен часами,
// Worker при этом продолжает обслуживать локальное хранилище и
// возобновляет синхронизацию, как только сеть возвращается.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// Configuration
	"github.com/klypt-hub/klypt-class-hub/config"

	// Application layer
	"github.com/klypt-hub/klypt-class-hub/internal/application/eventhandler"

	// Domain layer
	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"

	// Infrastructure layer
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/external/gateway"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/messaging"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/persistence/docstore"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/persistence/redis"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/scheduler"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/scheduler/jobs"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запускаем приложение
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Контекст для оценки фича-флагов этой инсталляции
	flagCtx := &config.FeatureContext{DeviceID: cfg.Gateway.DeviceID}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Klypt Class Hub Worker",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"device_id", cfg.Gateway.DeviceID,
		"sync_enabled", cfg.SyncEnabled(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ОТКРЫТИЕ ХРАНИЛИЩА ДОКУМЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("opening document store...", "path", docstoreConfig(cfg).Path())
	store, err := docstore.Open(ctx, docstoreConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() {
		log.Info("closing document store...")
		_ = store.Close()
	}()

	// Миграции схемы: Worker всегда работает с актуальной схемой
	migrator := docstore.NewMigrator(store)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("document store is ready")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var classCache classroom.Cache

	if !cfg.Redis.Disabled && cfg.Features.CachingEnabled(flagCtx) {
		log.Info("connecting to Redis...", "host", cfg.Redis.Host, "port", cfg.Redis.Port)

		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err := redis.NewCache(redisCfg)
		if err != nil {
			// Кеш - ускорение, а не зависимость: без Redis все чтения
			// идут напрямую в хранилище.
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
		} else {
			defer redisCache.Close()
			classCache = redis.NewClassCache(redisCache)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	classRepo := docstore.NewClassRepository(store)
	syncRepo := docstore.NewSyncStateRepository(store)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBusConfig.AsyncMode = true
	eventBusConfig.EnableMetrics = cfg.Observability.MetricsEnabled
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ПОДПИСКА ОБРАБОТЧИКОВ СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	classChangedCfg := eventhandler.DefaultClassChangedConfig()
	classChangedCfg.InvalidateOnPull = cfg.Features.IsEnabled(config.FeatureCacheInvalidateOnPull, flagCtx)
	onClassChanged := eventhandler.NewOnClassChangedHandler(classCache, log, classChangedCfg)
	for _, eventType := range onClassChanged.EventTypes() {
		if err := eventBus.Subscribe(eventType, onClassChanged.Handle); err != nil {
			return fmt.Errorf("failed to subscribe class change handler: %w", err)
		}
	}

	onSyncCompleted := eventhandler.NewOnSyncCompletedHandler(log, eventhandler.DefaultSyncCompletedConfig())
	for _, eventType := range onSyncCompleted.EventTypes() {
		if err := eventBus.Subscribe(eventType, onSyncCompleted.Handle); err != nil {
			return fmt.Errorf("failed to subscribe sync outcome handler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ИНИЦИАЛИЗАЦИЯ КЛИЕНТА ШЛЮЗА
	// ─────────────────────────────────────────────────────────────────────────
	var gatewayClient *gateway.Client

	if cfg.SyncEnabled() {
		gatewayCfg := gateway.DefaultClientConfig(cfg.Gateway.BaseURL)
		gatewayCfg.APIKey = cfg.Gateway.APIKey
		gatewayCfg.DeviceID = cfg.Gateway.DeviceID
		gatewayCfg.Timeout = cfg.Gateway.RequestTimeout
		gatewayCfg.Logger = log
		gatewayCfg.Debug = cfg.App.Debug
		gatewayCfg.RateLimiterConfig.RequestsPerSecond = float64(cfg.Gateway.RateLimit)
		gatewayCfg.RateLimiterConfig.BurstSize = cfg.Gateway.RateLimitBurst

		gatewayClient = gateway.NewClient(gatewayCfg)

		// Недоступный шлюз - штатный режим, а не ошибка запуска.
		if gatewayClient.IsHealthy(ctx) {
			log.Info("sync gateway is reachable", "base_url", cfg.Gateway.BaseURL)
		} else {
			log.Warn("sync gateway is unreachable, will keep retrying in background",
				"base_url", cfg.Gateway.BaseURL,
			)
		}
	} else {
		log.Info("no gateway configured, running in local-only mode")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ ПЛАНИРОВЩИКА И ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler

	if cfg.Scheduler.Enabled {
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:         log,
			Timezone:       cfg.App.Location,
			MaxHistorySize: cfg.Scheduler.MaxHistorySize,
			EnableMetrics:  cfg.Observability.MetricsEnabled,
		})

		// Задача синхронизации регистрируется только при настроенном шлюзе
		var syncJobName string
		if gatewayClient != nil {
			syncCfg := jobs.DefaultSyncAllClassesConfig()
			syncCfg.PullPageSize = cfg.Scheduler.PullPageSize
			syncCfg.PushConcurrency = cfg.Scheduler.PushConcurrency
			syncCfg.PushLimit = cfg.Scheduler.PushLimit
			syncCfg.PushEnabled = cfg.Features.IsEnabled(config.FeatureSyncPush, flagCtx)
			syncCfg.Timeout = cfg.Scheduler.SyncTimeout

			syncJob := jobs.NewSyncAllClassesJob(classRepo, syncRepo, gatewayClient, eventBus, log, syncCfg)
			if err := sched.Register(syncJob, scheduler.NewIntervalSchedule(cfg.Scheduler.SyncInterval)); err != nil {
				return fmt.Errorf("failed to register sync job: %w", err)
			}
			syncJobName = syncJob.Name()
		}

		if cfg.Features.IsEnabled(config.FeatureSyncStaleDetection, flagCtx) {
			staleCfg := jobs.DefaultDetectStaleClassesConfig()
			staleCfg.StaleThreshold = cfg.Scheduler.StaleThreshold
			staleCfg.MaxReported = cfg.Scheduler.StaleMaxReported

			staleJob := jobs.NewDetectStaleClassesJob(syncRepo, eventBus, log, staleCfg)
			if err := sched.Register(staleJob, scheduler.NewIntervalSchedule(cfg.Scheduler.StaleCheckInterval)); err != nil {
				return fmt.Errorf("failed to register stale detection job: %w", err)
			}
		}

		if cfg.Features.IsEnabled(config.FeatureStoreCompaction, flagCtx) {
			compactExpr := fmt.Sprintf("%d %d * * *", cfg.Scheduler.CompactionMinute, cfg.Scheduler.CompactionHour)
			compactSchedule, err := scheduler.ParseCronExpression(compactExpr)
			if err != nil {
				return fmt.Errorf("failed to parse compaction schedule %q: %w", compactExpr, err)
			}

			compactJob := jobs.NewCompactStoreJob(store, eventBus, log, jobs.DefaultCompactStoreConfig())
			if err := sched.Register(compactJob, compactSchedule); err != nil {
				return fmt.Errorf("failed to register compaction job: %w", err)
			}
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		// Первый цикл синхронизации сразу после старта, не дожидаясь
		// интервала: устройство могло неделю пролежать выключенным.
		if syncJobName != "" {
			go func() {
				_, _ = sched.RunNow(ctx, syncJobName)
			}()
		}
	} else {
		log.Warn("scheduler is disabled, store maintenance and sync will not run")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Klypt Class Hub Worker is running")

	// Ожидаем сигнал завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh
	log.Info("received shutdown signal", "signal", sig.String())

	if sched != nil && sched.IsRunning() {
		// Stop отменяет контекст задач и ждёт их завершения, поэтому
		// ограничиваем ожидание таймаутом.
		stopped := make(chan struct{})
		go func() {
			_ = sched.Stop()
			close(stopped)
		}()

		select {
		case <-stopped:
		case <-time.After(cfg.App.ShutdownTimeout):
			log.Warn("scheduler did not stop in time", "timeout", cfg.App.ShutdownTimeout.String())
		}
	}

	if busMetrics := eventBus.Metrics(); busMetrics != nil {
		snapshot := busMetrics.Snapshot()
		log.Info("event bus totals",
			"published", snapshot.TotalPublished,
			"handler_execs", snapshot.TotalHandlerExecs,
			"handler_failures", snapshot.HandlerFailures,
			"success_rate", fmt.Sprintf("%.2f", snapshot.HandlerSuccessRate),
		)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// docstoreConfig собирает конфигурацию хранилища из конфигурации приложения.
func docstoreConfig(cfg *config.Config) docstore.Config {
	return docstore.Config{
		Name:        cfg.Store.Name,
		Dir:         cfg.Store.Dir,
		BusyTimeout: cfg.Store.BusyTimeout,
		JournalMode: cfg.Store.JournalMode,
		Synchronous: cfg.Store.Synchronous,
	}
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Observability.LogFormat, "text") {
		// Текстовый формат для development (лучше читается)
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
