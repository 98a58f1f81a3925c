package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RENAME CLASS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// RenameClassCommand contains the data needed to rename a class.
type RenameClassCommand struct {
	// ClassID is the class to rename.
	ClassID string

	// NewTitle is the new class title.
	NewTitle string

	// CorrelationID for tracing across operations.
	CorrelationID string
}

// Validate validates the command.
func (c RenameClassCommand) Validate() error {
	if c.ClassID == "" {
		return errors.New("rename_class: class_id must not be empty")
	}
	if strings.TrimSpace(c.NewTitle) == "" {
		return errors.New("rename_class: new_title must not be empty")
	}
	return nil
}

// RenameClassResult contains the result of renaming.
type RenameClassResult struct {
	// ClassID is the renamed class.
	ClassID string

	// OldTitle is the title before the rename.
	OldTitle string

	// NewTitle is the title after the rename.
	NewTitle string

	// Renamed is false when the new title matched the old one; the class
	// record was not touched in that case.
	Renamed bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RenameClassHandler handles the RenameClassCommand.
type RenameClassHandler struct {
	classRepo      classroom.Repository
	cache          classroom.Cache // optional
	eventPublisher shared.EventPublisher
}

// NewRenameClassHandler creates a new RenameClassHandler.
func NewRenameClassHandler(
	classRepo classroom.Repository,
	cache classroom.Cache,
	eventPublisher shared.EventPublisher,
) *RenameClassHandler {
	return &RenameClassHandler{
		classRepo:      classRepo,
		cache:          cache,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the rename class command.
func (h *RenameClassHandler) Handle(ctx context.Context, cmd RenameClassCommand) (*RenameClassResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("rename_class: validation failed: %w", err)
	}

	rec, err := h.classRepo.Get(ctx, cmd.ClassID)
	if err != nil {
		return nil, fmt.Errorf("rename_class: failed to load class: %w", err)
	}

	oldTitle := rec.Title
	newTitle := strings.TrimSpace(cmd.NewTitle)
	if newTitle == oldTitle {
		return &RenameClassResult{
			ClassID:  rec.ID,
			OldTitle: oldTitle,
			NewTitle: oldTitle,
		}, nil
	}

	if err := rec.Rename(newTitle); err != nil {
		return nil, fmt.Errorf("rename_class: %w", err)
	}

	if err := h.classRepo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("rename_class: failed to save class: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, rec.ID)
	}

	event := shared.NewClassRenamedEvent(rec.ID, oldTitle, rec.Title)
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &RenameClassResult{
		ClassID:  rec.ID,
		OldTitle: oldTitle,
		NewTitle: rec.Title,
		Renamed:  true,
	}, nil
}
