// Package jobs contains implementations of scheduled jobs for the Klypt Class Hub.
// Each job keeps the local class store healthy: pulling and pushing changes
// through the sync gateway, compacting the embedded store, and flagging
// records that have drifted out of sync.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/external/gateway"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC ALL CLASSES JOB
// ══════════════════════════════════════════════════════════════════════════════

// SyncAllClassesJob synchronizes the local class store with the sync gateway.
// A cycle has two phases: pull the changes feed since the stored checkpoint
// and apply remote winners, then push locally modified records. Conflicts are
// resolved last-writer-wins by UpdatedAt.
type SyncAllClassesJob struct {
	// Dependencies
	classRepo classroom.Repository
	syncRepo  classroom.SyncRepository
	client    GatewayClient
	publisher shared.EventPublisher
	logger    *slog.Logger

	// Configuration
	config SyncAllClassesConfig

	// State (for metrics)
	lastSyncStats atomic.Value // *SyncStats
}

// GatewayClient defines what the sync job needs from the gateway API client.
type GatewayClient interface {
	// GetChanges fetches a page of the changes feed after the given cursor.
	GetChanges(ctx context.Context, cursor string, limit int) (*gateway.ChangesPage, error)

	// PushClass uploads a local record. Returns gateway.ErrConflict when the
	// remote copy has moved past the pushed version.
	PushClass(ctx context.Context, rec *classroom.ClassRecord) (*gateway.PushResult, error)

	// GetClass fetches the current remote version of a single class.
	GetClass(ctx context.Context, classID string) (*classroom.ClassRecord, error)
}

// SyncAllClassesConfig contains configuration for the sync job.
type SyncAllClassesConfig struct {
	// PullPageSize is the number of changes requested per feed page.
	PullPageSize int

	// PushConcurrency is the number of classes pushed in parallel.
	PushConcurrency int

	// PushLimit caps the number of dirty classes pushed per cycle.
	// The rest wait for the next cycle.
	PushLimit int

	// PushEnabled toggles the push phase; the pull phase always runs.
	PushEnabled bool

	// Timeout is the maximum duration for the entire sync cycle.
	Timeout time.Duration
}

// DefaultSyncAllClassesConfig returns sensible defaults.
func DefaultSyncAllClassesConfig() SyncAllClassesConfig {
	return SyncAllClassesConfig{
		PullPageSize:    100,
		PushConcurrency: 4,
		PushLimit:       200,
		PushEnabled:     true,
		Timeout:         5 * time.Minute,
	}
}

// SyncStats contains statistics from a sync cycle.
type SyncStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration

	// Pull phase
	Pulled      int // remote changes applied locally
	PullSkipped int // remote changes discarded, local copy newer
	PullFailed  int
	Tombstones  int // remote deletions applied

	// Push phase
	DirtyFound int
	Pushed     int
	PushFailed int
	Conflicts  int // pushes that needed conflict resolution

	Errors []SyncIssue
}

// SyncIssue describes a single failed record during a cycle.
type SyncIssue struct {
	ClassID    string
	Stage      string // "pull" or "push"
	Err        error
	OccurredAt time.Time
}

// NewSyncAllClassesJob creates a new sync job.
func NewSyncAllClassesJob(
	classRepo classroom.Repository,
	syncRepo classroom.SyncRepository,
	client GatewayClient,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config SyncAllClassesConfig,
) *SyncAllClassesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PullPageSize <= 0 {
		config.PullPageSize = 100
	}
	if config.PushConcurrency <= 0 {
		config.PushConcurrency = 4
	}

	return &SyncAllClassesJob{
		classRepo: classRepo,
		syncRepo:  syncRepo,
		client:    client,
		publisher: publisher,
		logger:    logger,
		config:    config,
	}
}

// Name returns the job name.
func (j *SyncAllClassesJob) Name() string {
	return "sync_all_classes"
}

// Description returns a human-readable description.
func (j *SyncAllClassesJob) Description() string {
	return "Synchronizes the local class store with the sync gateway"
}

// Run executes one sync cycle.
func (j *SyncAllClassesJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &SyncStats{
		StartedAt: startedAt,
		Errors:    make([]SyncIssue, 0),
	}

	j.logger.Info("starting sync_all_classes job")

	// Apply timeout
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	if err := j.pullChanges(ctx, stats); err != nil {
		j.finishStats(stats)
		j.publish(shared.NewSyncFailedEvent(err.Error()))
		return fmt.Errorf("pull phase: %w", err)
	}

	if j.config.PushEnabled {
		if err := j.pushDirty(ctx, stats); err != nil {
			j.finishStats(stats)
			j.publish(shared.NewSyncFailedEvent(err.Error()))
			return fmt.Errorf("push phase: %w", err)
		}
	}

	if err := j.syncRepo.SetLastSyncTime(ctx, time.Now().UTC()); err != nil {
		j.logger.Error("failed to set last sync time", "error", err)
	}

	j.finishStats(stats)

	failed := stats.PullFailed + stats.PushFailed
	j.publish(shared.NewSyncCompletedEvent(stats.Pulled, stats.Pushed, failed, stats.Duration))

	j.logger.Info("sync_all_classes job completed",
		"duration", stats.Duration.String(),
		"pulled", stats.Pulled,
		"pull_skipped", stats.PullSkipped,
		"tombstones", stats.Tombstones,
		"dirty", stats.DirtyFound,
		"pushed", stats.Pushed,
		"conflicts", stats.Conflicts,
		"failed", failed,
	)

	// Return error if too many pushes failed
	if stats.DirtyFound > 0 {
		failureRate := float64(stats.PushFailed) / float64(stats.DirtyFound)
		if failureRate > 0.5 {
			return fmt.Errorf("push failed for more than half of dirty classes (%d/%d)",
				stats.PushFailed, stats.DirtyFound)
		}
	}

	return nil
}

func (j *SyncAllClassesJob) finishStats(stats *SyncStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastSyncStats.Store(stats)
}

// ─────────────────────────────────────────────────────────────────────────────
// Pull phase
// ─────────────────────────────────────────────────────────────────────────────

// pullChanges walks the changes feed from the stored checkpoint and applies
// each entry. The checkpoint advances per page, so an aborted cycle resumes
// where it stopped.
func (j *SyncAllClassesJob) pullChanges(ctx context.Context, stats *SyncStats) error {
	cursor, err := j.syncRepo.GetCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	for {
		page, err := j.client.GetChanges(ctx, cursor, j.config.PullPageSize)
		if err != nil {
			return fmt.Errorf("fetch changes after %q: %w", cursor, err)
		}

		for i := range page.Changes {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			change := page.Changes[i]
			if err := j.applyChange(ctx, change, stats); err != nil {
				stats.PullFailed++
				stats.Errors = append(stats.Errors, SyncIssue{
					ClassID:    change.ClassID,
					Stage:      "pull",
					Err:        err,
					OccurredAt: time.Now(),
				})
				j.journal(ctx, change.ClassID, "pull", err)
				j.logger.Error("failed to apply remote change",
					"class_id", change.ClassID,
					"seq", change.Seq,
					"error", err,
				)
			}
		}

		advanced := page.NextCursor != "" && page.NextCursor != cursor
		if advanced {
			if err := j.syncRepo.SetCheckpoint(ctx, page.NextCursor); err != nil {
				return fmt.Errorf("persist checkpoint %q: %w", page.NextCursor, err)
			}
			j.publish(shared.NewCheckpointMovedEvent(cursor, page.NextCursor))
			cursor = page.NextCursor
		}

		if !page.More {
			return nil
		}
		if !advanced {
			// A page claiming more data must move the cursor, otherwise the
			// loop would spin on the same page forever.
			return fmt.Errorf("changes feed reported more pages without advancing the cursor %q", cursor)
		}
	}
}

// applyChange applies a single feed entry to the local store.
func (j *SyncAllClassesJob) applyChange(ctx context.Context, change gateway.ClassChange, stats *SyncStats) error {
	if change.Deleted {
		err := j.classRepo.Delete(ctx, change.ClassID)
		switch {
		case err == nil:
			stats.Tombstones++
		case errors.Is(err, classroom.ErrClassNotFound):
			// Never had it locally; nothing to do.
		default:
			return fmt.Errorf("apply tombstone: %w", err)
		}
		return nil
	}

	remote := change.Record
	if remote == nil {
		return errors.New("change entry carries no document")
	}

	local, err := j.classRepo.Get(ctx, remote.ID)
	if err != nil && !errors.Is(err, classroom.ErrClassNotFound) {
		return fmt.Errorf("load local copy: %w", err)
	}

	created := local == nil
	if !created && !remote.UpdatedAt.After(local.UpdatedAt) {
		// Last writer wins: the local copy is at least as new. The push
		// phase sends it out if it is dirty.
		stats.PullSkipped++
		return nil
	}

	// Remote wins. A record just pulled from the gateway is in sync.
	remote.SyncedWith(time.Now().UTC())
	if err := j.classRepo.Save(ctx, remote); err != nil {
		return fmt.Errorf("save remote winner: %w", err)
	}

	stats.Pulled++
	j.publish(shared.NewClassPulledEvent(remote.ID, remote.Code.String(), created))
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Push phase
// ─────────────────────────────────────────────────────────────────────────────

// pushDirty uploads locally modified records using a bounded worker pool.
func (j *SyncAllClassesJob) pushDirty(ctx context.Context, stats *SyncStats) error {
	dirty, err := j.syncRepo.ListDirty(ctx, j.config.PushLimit)
	if err != nil {
		return fmt.Errorf("list dirty classes: %w", err)
	}

	stats.DirtyFound = len(dirty)
	if len(dirty) == 0 {
		return nil
	}

	j.logger.Info("found dirty classes to push", "count", len(dirty))

	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.PushConcurrency)
		mu        sync.Mutex
	)

	for _, rec := range dirty {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{} // Acquire

		go func(rec *classroom.ClassRecord) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release

			resolvedConflict, err := j.pushClass(ctx, rec)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				stats.PushFailed++
				stats.Errors = append(stats.Errors, SyncIssue{
					ClassID:    rec.ID,
					Stage:      "push",
					Err:        err,
					OccurredAt: time.Now(),
				})
				j.journal(ctx, rec.ID, "push", err)
				j.logger.Error("failed to push class",
					"class_id", rec.ID,
					"class_code", rec.Code.String(),
					"error", err,
				)
				return
			}

			stats.Pushed++
			if resolvedConflict {
				stats.Conflicts++
			}
		}(rec)
	}

	wg.Wait()
	return nil
}

// pushClass uploads a single record, resolving a version conflict if the
// gateway reports one.
func (j *SyncAllClassesJob) pushClass(ctx context.Context, rec *classroom.ClassRecord) (resolvedConflict bool, err error) {
	result, err := j.client.PushClass(ctx, rec)
	if err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			if rerr := j.resolveConflict(ctx, rec); rerr != nil {
				return false, fmt.Errorf("resolve conflict: %w", rerr)
			}
			return true, nil
		}
		return false, err
	}

	if !result.Accepted {
		return false, fmt.Errorf("gateway did not accept class %s", rec.ID)
	}

	j.markSynced(ctx, rec)
	return false, nil
}

// resolveConflict fetches the remote version and lets the newer UpdatedAt win.
func (j *SyncAllClassesJob) resolveConflict(ctx context.Context, local *classroom.ClassRecord) error {
	remote, err := j.client.GetClass(ctx, local.ID)
	if err != nil {
		return fmt.Errorf("fetch remote version: %w", err)
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		// Remote wins: adopt it locally.
		remote.SyncedWith(time.Now().UTC())
		if err := j.classRepo.Save(ctx, remote); err != nil {
			return fmt.Errorf("adopt remote winner: %w", err)
		}
		j.publish(shared.NewClassPulledEvent(remote.ID, remote.Code.String(), false))
		return nil
	}

	// Local wins: push once more now that the remote state is known.
	result, err := j.client.PushClass(ctx, local)
	if err != nil {
		return fmt.Errorf("re-push local winner: %w", err)
	}
	if !result.Accepted {
		return fmt.Errorf("gateway did not accept local winner for class %s", local.ID)
	}

	j.markSynced(ctx, local)
	return nil
}

// markSynced records a successful push in the sync state and announces it.
func (j *SyncAllClassesJob) markSynced(ctx context.Context, rec *classroom.ClassRecord) {
	syncTime := time.Now().UTC()
	if err := j.syncRepo.MarkSynced(ctx, rec.ID, syncTime); err != nil {
		j.logger.Warn("failed to mark class as synced", "class_id", rec.ID, "error", err)
	}
	j.publish(shared.NewClassSyncedEvent(rec.ID, rec.Code.String(), syncTime))
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// journal writes a failed record into the sync error journal.
func (j *SyncAllClassesJob) journal(ctx context.Context, classID, stage string, cause error) {
	serr := classroom.SyncError{
		ClassID:    classID,
		Stage:      stage,
		Message:    cause.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if err := j.syncRepo.SaveSyncError(ctx, serr); err != nil {
		j.logger.Warn("failed to journal sync error", "class_id", classID, "error", err)
	}
}

func (j *SyncAllClassesJob) publish(event shared.Event) {
	if j.publisher == nil {
		return
	}
	if err := j.publisher.Publish(event); err != nil {
		j.logger.Warn("failed to publish event", "event_type", event.EventType(), "error", err)
	}
}

// LastSyncStats returns statistics from the last sync cycle.
func (j *SyncAllClassesJob) LastSyncStats() *SyncStats {
	stats := j.lastSyncStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SyncStats)
}
