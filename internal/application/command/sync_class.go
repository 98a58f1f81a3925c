package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC CLASS COMMAND
// Synchronizes a single class with the remote gateway. The newer UpdatedAt
// wins in both directions; the background job does the same for the whole
// store, this command targets one class on demand.
// ══════════════════════════════════════════════════════════════════════════════

// Sync directions reported in SyncClassResult.
const (
	SyncDirectionPush = "push"
	SyncDirectionPull = "pull"
	SyncDirectionNone = "none"
)

// SyncClassCommand contains the data needed to sync a class.
type SyncClassCommand struct {
	// ClassID is the class to synchronize.
	ClassID string

	// Force bypasses the sync interval check.
	Force bool

	// CorrelationID for tracing across operations.
	CorrelationID string
}

// Validate validates the command.
func (c SyncClassCommand) Validate() error {
	if c.ClassID == "" {
		return errors.New("sync_class: class_id must not be empty")
	}
	return nil
}

// SyncClassResult contains the result of synchronization.
type SyncClassResult struct {
	// ClassID is the synced class.
	ClassID string

	// Direction reports which way the data moved: "push", "pull" or "none".
	Direction string

	// WasCreated is true when the pull created a class that did not exist
	// locally before.
	WasCreated bool

	// Skipped is true when the sync interval check short-circuited the cycle.
	Skipped bool

	// SyncedAt is when the sync state was last confirmed.
	SyncedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// SyncGateway defines the remote side of a single-class sync.
type SyncGateway interface {
	// GetClass fetches the remote copy of a class.
	// Returns classroom.ErrClassNotFound when the gateway has no such class.
	GetClass(ctx context.Context, classID string) (*classroom.ClassRecord, error)

	// PushClass uploads the local copy. The returned error wraps
	// shared.ErrConcurrentModification when the remote version is newer.
	PushClass(ctx context.Context, rec *classroom.ClassRecord) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SyncClassHandler handles the SyncClassCommand.
type SyncClassHandler struct {
	classRepo      classroom.Repository
	syncRepo       classroom.SyncRepository
	gateway        SyncGateway
	cache          classroom.Cache // optional
	eventPublisher shared.EventPublisher

	// Configuration
	minSyncInterval time.Duration // Minimum interval between syncs of a clean class
}

// SyncClassHandlerConfig contains configuration for the handler.
type SyncClassHandlerConfig struct {
	MinSyncInterval time.Duration
}

// DefaultSyncClassHandlerConfig returns default configuration.
func DefaultSyncClassHandlerConfig() SyncClassHandlerConfig {
	return SyncClassHandlerConfig{
		MinSyncInterval: 5 * time.Minute,
	}
}

// NewSyncClassHandler creates a new SyncClassHandler.
// The cache may be nil; invalidation is skipped then.
func NewSyncClassHandler(
	classRepo classroom.Repository,
	syncRepo classroom.SyncRepository,
	gateway SyncGateway,
	cache classroom.Cache,
	eventPublisher shared.EventPublisher,
	config SyncClassHandlerConfig,
) *SyncClassHandler {
	if config.MinSyncInterval == 0 {
		config = DefaultSyncClassHandlerConfig()
	}

	return &SyncClassHandler{
		classRepo:       classRepo,
		syncRepo:        syncRepo,
		gateway:         gateway,
		cache:           cache,
		eventPublisher:  eventPublisher,
		minSyncInterval: config.MinSyncInterval,
	}
}

// Handle executes the sync class command.
func (h *SyncClassHandler) Handle(ctx context.Context, cmd SyncClassCommand) (*SyncClassResult, error) {
	// Validate command
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("sync_class: validation failed: %w", err)
	}

	// Load the local copy; absence just means the class may live remotely.
	local, err := h.classRepo.Get(ctx, cmd.ClassID)
	if err != nil && !errors.Is(err, classroom.ErrClassNotFound) {
		return nil, fmt.Errorf("sync_class: failed to load class: %w", err)
	}

	// Check sync interval (unless forced)
	if !cmd.Force && local != nil && !h.shouldSync(local) {
		return &SyncClassResult{
			ClassID:   local.ID,
			Direction: SyncDirectionNone,
			Skipped:   true,
			SyncedAt:  local.LastSyncedAt,
		}, nil
	}

	// Fetch the remote copy; absence means this class was never pushed.
	remote, err := h.gateway.GetClass(ctx, cmd.ClassID)
	if err != nil && !errors.Is(err, classroom.ErrClassNotFound) {
		return nil, fmt.Errorf("sync_class: failed to fetch remote class: %w", err)
	}

	switch {
	case local == nil && remote == nil:
		return nil, fmt.Errorf("sync_class: class %s: %w", cmd.ClassID, classroom.ErrClassNotFound)
	case remote == nil:
		return h.push(ctx, local, cmd.CorrelationID)
	case local == nil:
		return h.pull(ctx, remote, true, cmd.CorrelationID)
	case local.UpdatedAt.After(remote.UpdatedAt):
		return h.push(ctx, local, cmd.CorrelationID)
	case remote.UpdatedAt.After(local.UpdatedAt):
		return h.pull(ctx, remote, false, cmd.CorrelationID)
	default:
		return h.settle(ctx, local)
	}
}

// shouldSync reports whether the record has to go through a sync cycle.
func (h *SyncClassHandler) shouldSync(rec *classroom.ClassRecord) bool {
	if rec.IsDirty() {
		return true
	}
	return time.Since(rec.LastSyncedAt) >= h.minSyncInterval
}

// push uploads the local copy, resolving a version conflict if the gateway
// reports one.
func (h *SyncClassHandler) push(ctx context.Context, local *classroom.ClassRecord, correlationID string) (*SyncClassResult, error) {
	if err := h.gateway.PushClass(ctx, local); err != nil {
		if errors.Is(err, shared.ErrConcurrentModification) {
			return h.resolveConflict(ctx, local, correlationID)
		}
		_ = h.syncRepo.SaveSyncError(ctx, classroom.SyncError{
			ClassID:    local.ID,
			Stage:      "push",
			Message:    err.Error(),
			OccurredAt: time.Now().UTC(),
		})
		return nil, fmt.Errorf("sync_class: failed to push class: %w", err)
	}

	return h.finishPush(ctx, local, correlationID)
}

// finishPush records a successful push in the sync state and announces it.
func (h *SyncClassHandler) finishPush(ctx context.Context, local *classroom.ClassRecord, correlationID string) (*SyncClassResult, error) {
	syncedAt := time.Now().UTC()
	if err := h.syncRepo.MarkSynced(ctx, local.ID, syncedAt); err != nil {
		return nil, fmt.Errorf("sync_class: pushed but failed to record sync state: %w", err)
	}

	event := shared.NewClassSyncedEvent(local.ID, local.Code.String(), syncedAt)
	if correlationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(correlationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &SyncClassResult{
		ClassID:   local.ID,
		Direction: SyncDirectionPush,
		SyncedAt:  syncedAt,
	}, nil
}

// pull adopts the remote copy locally. A record just pulled from the
// gateway is in sync.
func (h *SyncClassHandler) pull(ctx context.Context, remote *classroom.ClassRecord, created bool, correlationID string) (*SyncClassResult, error) {
	syncedAt := time.Now().UTC()
	remote.SyncedWith(syncedAt)
	if err := h.classRepo.Save(ctx, remote); err != nil {
		return nil, fmt.Errorf("sync_class: failed to save pulled class: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, remote.ID)
	}

	event := shared.NewClassPulledEvent(remote.ID, remote.Code.String(), created)
	if correlationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(correlationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &SyncClassResult{
		ClassID:    remote.ID,
		Direction:  SyncDirectionPull,
		WasCreated: created,
		SyncedAt:   syncedAt,
	}, nil
}

// resolveConflict refetches the remote copy and lets the newer UpdatedAt win.
func (h *SyncClassHandler) resolveConflict(ctx context.Context, local *classroom.ClassRecord, correlationID string) (*SyncClassResult, error) {
	remote, err := h.gateway.GetClass(ctx, local.ID)
	if err != nil {
		return nil, fmt.Errorf("sync_class: failed to fetch conflicting version: %w", err)
	}

	if remote.UpdatedAt.After(local.UpdatedAt) {
		return h.pull(ctx, remote, false, correlationID)
	}

	// Local wins: push once more now that the remote state is known.
	if err := h.gateway.PushClass(ctx, local); err != nil {
		return nil, fmt.Errorf("sync_class: failed to re-push local winner: %w", err)
	}
	return h.finishPush(ctx, local, correlationID)
}

// settle handles a class that carries the same version on both sides.
func (h *SyncClassHandler) settle(ctx context.Context, local *classroom.ClassRecord) (*SyncClassResult, error) {
	syncedAt := local.LastSyncedAt
	if local.IsDirty() {
		// Content already matches but the local record never noticed.
		syncedAt = time.Now().UTC()
		if err := h.syncRepo.MarkSynced(ctx, local.ID, syncedAt); err != nil {
			return nil, fmt.Errorf("sync_class: failed to record sync state: %w", err)
		}
	}

	return &SyncClassResult{
		ClassID:   local.ID,
		Direction: SyncDirectionNone,
		SyncedAt:  syncedAt,
	}, nil
}
