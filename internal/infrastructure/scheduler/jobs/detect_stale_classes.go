package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETECT STALE CLASSES JOB
// ══════════════════════════════════════════════════════════════════════════════

// DetectStaleClassesJob flags classes that have not synced with the gateway
// for too long. On an offline-first device a long gap usually means the
// gateway is unreachable or a record keeps failing to push; surfacing it
// early beats finding out during a restore.
type DetectStaleClassesJob struct {
	// Dependencies
	syncRepo  classroom.SyncRepository
	publisher shared.EventPublisher
	logger    *slog.Logger

	// Configuration
	config DetectStaleClassesConfig

	// State
	lastRunStats atomic.Value // *DetectStaleStats
}

// DetectStaleClassesConfig contains configuration for the stale detection job.
type DetectStaleClassesConfig struct {
	// StaleThreshold is how long a class may go unsynced before it is flagged.
	StaleThreshold time.Duration

	// MaxReported caps the number of stale classes reported per run, so a
	// long outage does not flood the log and the event bus.
	MaxReported int

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultDetectStaleClassesConfig returns sensible defaults.
func DefaultDetectStaleClassesConfig() DetectStaleClassesConfig {
	return DetectStaleClassesConfig{
		StaleThreshold: 7 * 24 * time.Hour,
		MaxReported:    50,
		Timeout:        time.Minute,
	}
}

// DetectStaleStats contains statistics from a detection run.
type DetectStaleStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	StaleFound int
	Reported   int
	Truncated  bool // true when MaxReported cut the report short
}

// NewDetectStaleClassesJob creates a new stale detection job.
func NewDetectStaleClassesJob(
	syncRepo classroom.SyncRepository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config DetectStaleClassesConfig,
) *DetectStaleClassesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = DefaultDetectStaleClassesConfig().StaleThreshold
	}

	return &DetectStaleClassesJob{
		syncRepo:  syncRepo,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// Name returns the job name.
func (j *DetectStaleClassesJob) Name() string {
	return "detect_stale_classes"
}

// Description returns a human-readable description.
func (j *DetectStaleClassesJob) Description() string {
	return "Flags classes that have not synced within the staleness threshold"
}

// Run executes one detection pass.
func (j *DetectStaleClassesJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &DetectStaleStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	j.logger.Info("starting detect_stale_classes job",
		"threshold", j.config.StaleThreshold.String(),
	)

	stale, err := j.syncRepo.ListStale(ctx, j.config.StaleThreshold)
	if err != nil {
		return fmt.Errorf("list stale classes: %w", err)
	}

	stats.StaleFound = len(stale)

	for _, rec := range stale {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if j.config.MaxReported > 0 && stats.Reported >= j.config.MaxReported {
			stats.Truncated = true
			break
		}

		staleFor := rec.StaleFor()
		j.logger.Warn("class has not synced within threshold",
			"class_id", rec.ID,
			"class_code", rec.Code.String(),
			"last_synced_at", rec.LastSyncedAt,
			"stale_for", staleFor.String(),
		)

		if j.publisher != nil {
			event := shared.NewClassStaleEvent(rec.ID, rec.Code.String(), rec.LastSyncedAt, staleFor)
			if err := j.publisher.Publish(event); err != nil {
				j.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
			}
		}

		stats.Reported++
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.logger.Info("detect_stale_classes job completed",
		"duration", stats.Duration.String(),
		"stale_found", stats.StaleFound,
		"reported", stats.Reported,
	)

	return nil
}

// LastRunStats returns statistics from the last detection run.
func (j *DetectStaleClassesJob) LastRunStats() *DetectStaleStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*DetectStaleStats)
}
