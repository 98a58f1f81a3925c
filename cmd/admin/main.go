// Package main - административная консоль Klypt Class Hub.
//
// Однократные команды для оператора хаба: сводка состояния хранилища,
// просмотр и поиск классов, явное удаление записей, внеочередная
// синхронизация и компактация хранилища. Конфигурация берётся из тех же
// переменных окружения, что и у Worker, поэтому консоль можно запускать
// прямо на устройстве рядом с работающим процессом.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	// Configuration
	"github.com/klypt-hub/klypt-class-hub/config"

	// Application layer
	"github.com/klypt-hub/klypt-class-hub/internal/application/command"
	"github.com/klypt-hub/klypt-class-hub/internal/application/query"

	// Domain layer
	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"

	// Infrastructure layer
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/external/gateway"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/messaging"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/persistence/docstore"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/scheduler/jobs"

	// Packages
	"github.com/klypt-hub/klypt-class-hub/pkg/timeutil"
)

const usageText = `Klypt Class Hub admin console

Usage:
  admin <command> [flags]

Commands:
  status     Store and sync health summary
  count      Print the number of classes in the store
  list       List classes (-educator, -student, -limit)
  get        Show a single class (-id or -code)
  delete     Delete a class permanently (-id, -reason)
  sync-now   Run a sync cycle immediately (-class to sync one class)
  compact    Compact the document store

Configuration comes from the same environment variables as the worker
(STORE_DIR, STORE_NAME, GATEWAY_BASE_URL, ...).
`

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(usageText)
		if len(args) == 0 {
			return errors.New("no command given")
		}
		return nil
	}

	commands := map[string]func(context.Context, *application, []string) error{
		"status":   cmdStatus,
		"count":    cmdCount,
		"list":     cmdList,
		"get":      cmdGet,
		"delete":   cmdDelete,
		"sync-now": cmdSyncNow,
		"compact":  cmdCompact,
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Print(usageText)
		return fmt.Errorf("unknown command: %s", args[0])
	}

	app, err := openApplication(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	return cmd(ctx, app, args[1:])
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

// application держит зависимости, общие для всех админ-команд.
type application struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *docstore.Store
	classRepo *docstore.ClassRepository
	syncRepo  *docstore.SyncStateRepository
	bus       *messaging.InMemoryEventBus
}

func openApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)

	store, err := docstore.Open(ctx, docstore.Config{
		Name:        cfg.Store.Name,
		Dir:         cfg.Store.Dir,
		BusyTimeout: cfg.Store.BusyTimeout,
		JournalMode: cfg.Store.JournalMode,
		Synchronous: cfg.Store.Synchronous,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	if err := docstore.NewMigrator(store).Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Синхронная шина: однократная команда завершается сразу после
	// выполнения, фоновым воркерам событий взяться неоткуда.
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		AsyncMode: false,
		Logger:    log,
	})

	return &application{
		cfg:       cfg,
		log:       log,
		store:     store,
		classRepo: docstore.NewClassRepository(store),
		syncRepo:  docstore.NewSyncStateRepository(store),
		bus:       bus,
	}, nil
}

func (a *application) Close() {
	_ = a.bus.Close()
	_ = a.store.Close()
}

// gatewayClient создаёт клиента шлюза или сообщает, что шлюз не настроен.
func (a *application) gatewayClient() (*gateway.Client, error) {
	if !a.cfg.SyncEnabled() {
		return nil, errors.New("GATEWAY_BASE_URL is not configured, sync commands are unavailable")
	}

	gatewayCfg := gateway.DefaultClientConfig(a.cfg.Gateway.BaseURL)
	gatewayCfg.APIKey = a.cfg.Gateway.APIKey
	gatewayCfg.DeviceID = a.cfg.Gateway.DeviceID
	gatewayCfg.Timeout = a.cfg.Gateway.RequestTimeout
	gatewayCfg.Logger = a.log
	gatewayCfg.RateLimiterConfig.RequestsPerSecond = float64(a.cfg.Gateway.RateLimit)
	gatewayCfg.RateLimiterConfig.BurstSize = a.cfg.Gateway.RateLimitBurst

	return gateway.NewClient(gatewayCfg), nil
}

// flagContext возвращает контекст фича-флагов для админ-консоли.
// Админские запуски видят все функции независимо от раскатки.
func (a *application) flagContext() *config.FeatureContext {
	return &config.FeatureContext{
		DeviceID: a.cfg.Gateway.DeviceID,
		IsAdmin:  true,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func cmdStatus(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	staleAfter := fs.Duration("stale-after", 7*24*time.Hour, "how long without sync before a class counts as stale")
	errorWindow := fs.Duration("error-window", 24*time.Hour, "window for the recent sync error count")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handler := query.NewClassStatsHandler(app.classRepo, app.syncRepo)
	result, err := handler.Handle(ctx, query.ClassStatsQuery{
		StaleThreshold: *staleAfter,
		ErrorWindow:    *errorWindow,
	})
	if err != nil {
		return err
	}

	stats := result.Stats
	var lastSync time.Time
	if stats.LastSyncAt != nil {
		lastSync = *stats.LastSyncAt
	}

	fmt.Printf("Klypt Class Hub store status (%s)\n\n", app.store.Path())
	fmt.Printf("  Classes:        %d\n", stats.TotalClasses)
	fmt.Printf("  Enrollments:    %d\n", stats.TotalEnrollments)
	fmt.Printf("  Empty classes:  %d\n", stats.EmptyClasses)
	fmt.Printf("  Avg roster:     %.1f\n\n", stats.AverageRosterSize)
	fmt.Printf("  Pending sync:   %d\n", stats.PendingSync)
	fmt.Printf("  Never synced:   %d\n", stats.NeverSynced)
	fmt.Printf("  Stale:          %d (threshold %s)\n", stats.StaleClasses, staleAfter.String())
	fmt.Printf("  Last sync:      %s\n", timeutil.FormatSyncTime(lastSync))
	fmt.Printf("  Recent errors:  %d (last %s)\n", stats.RecentErrors, errorWindow.String())
	return nil
}

func cmdCount(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("count", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	handler := query.NewClassStatsHandler(app.classRepo, app.syncRepo)
	result, err := handler.Handle(ctx, query.ClassStatsQuery{})
	if err != nil {
		return err
	}

	fmt.Println(result.Stats.TotalClasses)
	return nil
}

func cmdList(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	educator := fs.String("educator", "", "only classes owned by this educator")
	student := fs.String("student", "", "only classes this student is enrolled in")
	limit := fs.Int("limit", 0, "maximum number of classes to print (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handler := query.NewListClassesHandler(app.classRepo)
	result, err := handler.Handle(ctx, query.ListClassesQuery{
		EducatorID: *educator,
		StudentID:  *student,
		Limit:      *limit,
	})
	if err != nil {
		return err
	}

	if result.Total == 0 {
		fmt.Println("no classes found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tTITLE\tEDUCATOR\tSTUDENTS\tUPDATED\tSYNC")
	for _, c := range result.Classes {
		sync := "ok"
		if c.PendingSync {
			sync = "pending"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.ClassID, c.ClassCode, c.Title, c.EducatorID,
			c.RosterSize, timeutil.FormatRelative(c.UpdatedAt), sync,
		)
	}
	return w.Flush()
}

func cmdGet(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	classID := fs.String("id", "", "class identifier")
	classCode := fs.String("code", "", "join code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	handler := query.NewGetClassHandler(app.classRepo, nil)
	result, err := handler.Handle(ctx, query.GetClassQuery{
		ClassID:   *classID,
		ClassCode: *classCode,
	})
	if err != nil {
		return err
	}

	if !result.Found {
		fmt.Println("class not found")
		return nil
	}

	c := result.Class
	var lastSync time.Time
	if c.LastSyncedAt != nil {
		lastSync = *c.LastSyncedAt
	}
	syncState := "clean"
	if c.PendingSync {
		syncState = "pending changes"
	}

	fmt.Printf("Class %s\n", c.ClassID)
	fmt.Printf("  Code:       %s\n", c.ClassCode)
	fmt.Printf("  Title:      %s\n", c.Title)
	fmt.Printf("  Educator:   %s\n", c.EducatorID)
	fmt.Printf("  Students:   %d\n", c.RosterSize)
	for _, studentID := range c.StudentIDs {
		fmt.Printf("    - %s\n", studentID)
	}
	fmt.Printf("  Created:    %s\n", timeutil.FormatDateTimeStr(c.CreatedAt))
	fmt.Printf("  Updated:    %s\n", timeutil.FormatRelative(c.UpdatedAt))
	fmt.Printf("  Last sync:  %s\n", timeutil.FormatSyncTime(lastSync))
	fmt.Printf("  Sync:       %s\n", syncState)
	return nil
}

func cmdDelete(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	classID := fs.String("id", "", "class identifier (required)")
	reason := fs.String("reason", "admin console", "reason recorded in the deletion event")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *classID == "" {
		return errors.New("delete: -id is required")
	}

	handler := command.NewDeleteClassHandler(app.classRepo, nil, app.bus)
	result, err := handler.Handle(ctx, command.DeleteClassCommand{
		ClassID: *classID,
		Reason:  *reason,
	})
	if err != nil {
		return err
	}

	if result.Deleted {
		fmt.Printf("class %s deleted\n", result.ClassID)
	} else {
		fmt.Printf("class %s not found, nothing deleted\n", result.ClassID)
	}
	return nil
}

func cmdSyncNow(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("sync-now", flag.ExitOnError)
	classID := fs.String("class", "", "sync only this class")
	force := fs.Bool("force", false, "sync even if the class looks fresh")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := app.gatewayClient()
	if err != nil {
		return err
	}

	if *classID != "" {
		return syncSingleClass(ctx, app, client, *classID, *force)
	}
	return syncAllClasses(ctx, app, client)
}

// syncSingleClass прогоняет один класс через командный слой.
func syncSingleClass(ctx context.Context, app *application, client *gateway.Client, classID string, force bool) error {
	handler := command.NewSyncClassHandler(
		app.classRepo,
		app.syncRepo,
		&gatewaySyncAdapter{client: client},
		nil,
		app.bus,
		command.DefaultSyncClassHandlerConfig(),
	)

	result, err := handler.Handle(ctx, command.SyncClassCommand{
		ClassID: classID,
		Force:   force,
	})
	if err != nil {
		return err
	}

	switch {
	case result.Skipped:
		fmt.Printf("class %s is already in sync, skipped (use -force to override)\n", result.ClassID)
	case result.Direction == command.SyncDirectionPush:
		fmt.Printf("pushed local changes for class %s\n", result.ClassID)
	case result.Direction == command.SyncDirectionPull && result.WasCreated:
		fmt.Printf("pulled class %s from the gateway (created locally)\n", result.ClassID)
	case result.Direction == command.SyncDirectionPull:
		fmt.Printf("pulled newer version of class %s\n", result.ClassID)
	default:
		fmt.Printf("class %s already matched the gateway, sync state refreshed\n", result.ClassID)
	}
	return nil
}

// syncAllClasses запускает полный цикл той же задачей, что и Worker.
func syncAllClasses(ctx context.Context, app *application, client *gateway.Client) error {
	syncCfg := jobs.DefaultSyncAllClassesConfig()
	syncCfg.PushEnabled = app.cfg.Features.IsEnabled(config.FeatureSyncPush, app.flagContext())

	job := jobs.NewSyncAllClassesJob(app.classRepo, app.syncRepo, client, app.bus, app.log, syncCfg)
	runErr := job.Run(ctx)

	if stats := job.LastSyncStats(); stats != nil {
		fmt.Printf("sync cycle finished in %s\n", stats.Duration.Round(time.Millisecond))
		fmt.Printf("  pulled:   %d (skipped %d, tombstones %d)\n", stats.Pulled, stats.PullSkipped, stats.Tombstones)
		fmt.Printf("  pushed:   %d of %d dirty (conflicts resolved %d)\n", stats.Pushed, stats.DirtyFound, stats.Conflicts)
		fmt.Printf("  failures: %d\n", stats.PullFailed+stats.PushFailed)
		for _, issue := range stats.Errors {
			fmt.Printf("    - [%s] %s: %v\n", issue.Stage, issue.ClassID, issue.Err)
		}
	}

	return runErr
}

func cmdCompact(ctx context.Context, app *application, args []string) error {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := app.store.Compact(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("store compacted in %s: %s -> %s (reclaimed %s)\n",
		result.Duration.Round(time.Millisecond),
		formatBytes(result.BytesBefore),
		formatBytes(result.BytesAfter),
		formatBytes(result.BytesBefore-result.BytesAfter),
	)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// gatewaySyncAdapter подгоняет *gateway.Client под интерфейс шлюза
// команды синхронизации: команде нужен только исход push, не детали.
type gatewaySyncAdapter struct {
	client *gateway.Client
}

func (a *gatewaySyncAdapter) GetClass(ctx context.Context, classID string) (*classroom.ClassRecord, error) {
	return a.client.GetClass(ctx, classID)
}

func (a *gatewaySyncAdapter) PushClass(ctx context.Context, rec *classroom.ClassRecord) error {
	result, err := a.client.PushClass(ctx, rec)
	if err != nil {
		return err
	}
	if !result.Accepted {
		return fmt.Errorf("push class %s: %w", rec.ID, gateway.ErrConflict)
	}
	return nil
}

// setupLogger настраивает логирование консоли: логи уходят в stderr,
// stdout остаётся чистым для вывода команд.
func setupLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	if cfg.App.Debug {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

// formatBytes переводит размер в человекочитаемый вид.
func formatBytes(n int64) string {
	const unit = 1024
	if n < 0 {
		n = 0
	}
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}
