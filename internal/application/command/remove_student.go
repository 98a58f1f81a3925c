package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REMOVE STUDENT COMMAND
// Withdraws a student from a class roster. Removing a student who is not
// enrolled is a no-op, mirroring the idempotent enroll semantics.
// ══════════════════════════════════════════════════════════════════════════════

// RemoveStudentCommand contains the data needed to remove a student.
type RemoveStudentCommand struct {
	// ClassID is the class to remove the student from.
	ClassID string

	// StudentID is the student being removed.
	StudentID string

	// CorrelationID for tracing across operations.
	CorrelationID string
}

// Validate validates the command.
func (c RemoveStudentCommand) Validate() error {
	if c.ClassID == "" {
		return errors.New("remove_student: class_id must not be empty")
	}
	if c.StudentID == "" {
		return errors.New("remove_student: student_id must not be empty")
	}
	return nil
}

// RemoveStudentResult contains the result of removal.
type RemoveStudentResult struct {
	// ClassID is the class the student was removed from.
	ClassID string

	// RosterSize is the roster size after removal.
	RosterSize int

	// WasEnrolled is false when the student was not on the roster; the
	// class record was not touched in that case.
	WasEnrolled bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RemoveStudentHandler handles the RemoveStudentCommand.
type RemoveStudentHandler struct {
	classRepo      classroom.Repository
	cache          classroom.Cache // optional
	eventPublisher shared.EventPublisher
}

// NewRemoveStudentHandler creates a new RemoveStudentHandler.
func NewRemoveStudentHandler(
	classRepo classroom.Repository,
	cache classroom.Cache,
	eventPublisher shared.EventPublisher,
) *RemoveStudentHandler {
	return &RemoveStudentHandler{
		classRepo:      classRepo,
		cache:          cache,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the remove student command.
func (h *RemoveStudentHandler) Handle(ctx context.Context, cmd RemoveStudentCommand) (*RemoveStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("remove_student: validation failed: %w", err)
	}

	rec, err := h.classRepo.Get(ctx, cmd.ClassID)
	if err != nil {
		return nil, fmt.Errorf("remove_student: failed to load class: %w", err)
	}

	if err := rec.Withdraw(classroom.StudentID(cmd.StudentID)); err != nil {
		if errors.Is(err, classroom.ErrNotEnrolled) {
			return &RemoveStudentResult{
				ClassID:    rec.ID,
				RosterSize: rec.RosterSize(),
			}, nil
		}
		return nil, fmt.Errorf("remove_student: %w", err)
	}

	if err := h.classRepo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("remove_student: failed to save class: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, rec.ID)
	}

	event := shared.NewStudentRemovedEvent(rec.ID, cmd.StudentID, rec.Code.String(), rec.RosterSize())
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &RemoveStudentResult{
		ClassID:     rec.ID,
		RosterSize:  rec.RosterSize(),
		WasEnrolled: true,
	}, nil
}
