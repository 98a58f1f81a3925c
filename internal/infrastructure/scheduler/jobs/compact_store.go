package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/persistence/docstore"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPACT STORE JOB
// ══════════════════════════════════════════════════════════════════════════════

// StoreCompactor is the maintenance surface of the document store.
type StoreCompactor interface {
	Compact(ctx context.Context) (*docstore.CompactResult, error)
}

// CompactStoreJob reclaims disk space from the embedded document store.
// SQLite files never shrink on their own; deleted documents and WAL pages
// accumulate until a checkpoint and vacuum runs.
type CompactStoreJob struct {
	store     StoreCompactor
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    CompactStoreConfig

	lastResult atomic.Value // *docstore.CompactResult
}

// CompactStoreConfig contains configuration for the compaction job.
type CompactStoreConfig struct {
	// Timeout is the maximum duration for a compaction run. VACUUM rewrites
	// the whole file, so this scales with store size.
	Timeout time.Duration
}

// DefaultCompactStoreConfig returns sensible defaults.
func DefaultCompactStoreConfig() CompactStoreConfig {
	return CompactStoreConfig{
		Timeout: 2 * time.Minute,
	}
}

// NewCompactStoreJob creates a new compaction job.
func NewCompactStoreJob(
	store StoreCompactor,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config CompactStoreConfig,
) *CompactStoreJob {
	if logger == nil {
		logger = slog.Default()
	}

	return &CompactStoreJob{
		store:     store,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// Name returns the job name.
func (j *CompactStoreJob) Name() string {
	return "compact_store"
}

// Description returns a human-readable description.
func (j *CompactStoreJob) Description() string {
	return "Checkpoints and vacuums the embedded document store"
}

// Run executes one compaction.
func (j *CompactStoreJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	j.logger.Info("starting compact_store job")

	result, err := j.store.Compact(ctx)
	if err != nil {
		return fmt.Errorf("compact store: %w", err)
	}

	j.lastResult.Store(result)

	j.logger.Info("compact_store job completed",
		"bytes_before", result.BytesBefore,
		"bytes_after", result.BytesAfter,
		"reclaimed", result.BytesBefore-result.BytesAfter,
		"duration", result.Duration.String(),
	)

	if j.publisher != nil {
		event := shared.NewStoreCompactedEvent(result.BytesBefore, result.BytesAfter, result.Duration)
		if err := j.publisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
		}
	}

	return nil
}

// LastResult returns the outcome of the most recent compaction, or nil.
func (j *CompactStoreJob) LastResult() *docstore.CompactResult {
	result := j.lastResult.Load()
	if result == nil {
		return nil
	}
	return result.(*docstore.CompactResult)
}
