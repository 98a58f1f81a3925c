package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DELETE CLASS COMMAND
// ══════════════════════════════════════════════════════════════════════════════
// Removes a class document from the local store. Deleting a class that
// does not exist reports Deleted=false instead of failing: the caller
// often retries after a sync tombstone already removed the document.

// DeleteClassCommand contains the data needed to delete a class.
type DeleteClassCommand struct {
	// ClassID is the class to delete.
	ClassID string

	// Reason describes why the class is being removed ("admin", "tombstone").
	Reason string

	// CorrelationID for tracing across operations.
	CorrelationID string
}

// Validate validates the command.
func (c DeleteClassCommand) Validate() error {
	if c.ClassID == "" {
		return errors.New("delete_class: class_id must not be empty")
	}
	return nil
}

// DeleteClassResult contains the result of the deletion.
type DeleteClassResult struct {
	// ClassID is the class the command targeted.
	ClassID string

	// Deleted is true when a document was actually removed and false when
	// the class was already gone.
	Deleted bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// DeleteClassHandler handles the DeleteClassCommand.
type DeleteClassHandler struct {
	classRepo      classroom.Repository
	cache          classroom.Cache // optional
	eventPublisher shared.EventPublisher
}

// NewDeleteClassHandler creates a new DeleteClassHandler.
func NewDeleteClassHandler(
	classRepo classroom.Repository,
	cache classroom.Cache,
	eventPublisher shared.EventPublisher,
) *DeleteClassHandler {
	return &DeleteClassHandler{
		classRepo:      classRepo,
		cache:          cache,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the delete class command.
func (h *DeleteClassHandler) Handle(ctx context.Context, cmd DeleteClassCommand) (*DeleteClassResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("delete_class: validation failed: %w", err)
	}

	// Load first so the deletion event can carry the code and educator.
	rec, err := h.classRepo.Get(ctx, cmd.ClassID)
	if err != nil {
		if errors.Is(err, classroom.ErrClassNotFound) {
			return &DeleteClassResult{ClassID: cmd.ClassID}, nil
		}
		return nil, fmt.Errorf("delete_class: failed to load class: %w", err)
	}

	if err := h.classRepo.Delete(ctx, cmd.ClassID); err != nil {
		// A concurrent tombstone may have removed the document between the
		// load and the delete. That still counts as "already gone".
		if errors.Is(err, classroom.ErrClassNotFound) {
			return &DeleteClassResult{ClassID: cmd.ClassID}, nil
		}
		return nil, fmt.Errorf("delete_class: failed to delete class: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, cmd.ClassID)
	}

	reason := cmd.Reason
	if reason == "" {
		reason = "admin"
	}
	event := shared.NewClassDeletedEvent(rec.ID, rec.Code.String(), rec.EducatorID.String(), reason)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &DeleteClassResult{ClassID: cmd.ClassID, Deleted: true}, nil
}
