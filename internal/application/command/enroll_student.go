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
// ENROLL STUDENT COMMAND
// Joins a student to a class by its join code. Re-joining an already
// enrolled student is a no-op, not an error: join links get tapped twice.
// ══════════════════════════════════════════════════════════════════════════════

// EnrollStudentCommand contains the data needed to enroll a student.
type EnrollStudentCommand struct {
	// ClassCode is the join code, in any case and with surrounding spaces.
	ClassCode string

	// StudentID is the student joining the class.
	StudentID string

	// CorrelationID for tracing across operations.
	CorrelationID string
}

// Validate validates the command.
func (c EnrollStudentCommand) Validate() error {
	if c.ClassCode == "" {
		return errors.New("enroll_student: class_code must not be empty")
	}
	if c.StudentID == "" {
		return errors.New("enroll_student: student_id must not be empty")
	}
	return nil
}

// EnrollStudentResult contains the result of enrollment.
type EnrollStudentResult struct {
	// ClassID is the class the student joined.
	ClassID string

	// ClassTitle is the title of the joined class.
	ClassTitle string

	// RosterSize is the roster size after enrollment.
	RosterSize int

	// AlreadyEnrolled is true when the student was enrolled before this
	// command ran. The class record was not touched in that case.
	AlreadyEnrolled bool

	// EnrolledAt is when the enrollment happened.
	EnrolledAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// EnrollStudentHandler handles the EnrollStudentCommand.
type EnrollStudentHandler struct {
	classRepo      classroom.Repository
	cache          classroom.Cache // optional
	eventPublisher shared.EventPublisher
}

// NewEnrollStudentHandler creates a new EnrollStudentHandler.
// The cache may be nil; invalidation is skipped then.
func NewEnrollStudentHandler(
	classRepo classroom.Repository,
	cache classroom.Cache,
	eventPublisher shared.EventPublisher,
) *EnrollStudentHandler {
	return &EnrollStudentHandler{
		classRepo:      classRepo,
		cache:          cache,
		eventPublisher: eventPublisher,
	}
}

// Handle executes the enroll student command.
func (h *EnrollStudentHandler) Handle(ctx context.Context, cmd EnrollStudentCommand) (*EnrollStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("enroll_student: validation failed: %w", err)
	}

	code := classroom.NormalizeCode(cmd.ClassCode)
	if !code.IsValid() {
		return nil, fmt.Errorf("enroll_student: %w: %q", classroom.ErrInvalidClassCode, cmd.ClassCode)
	}

	rec, err := h.classRepo.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("enroll_student: failed to find class by code: %w", err)
	}

	studentID := classroom.StudentID(cmd.StudentID)
	if err := rec.Enroll(studentID); err != nil {
		if errors.Is(err, classroom.ErrAlreadyEnrolled) {
			return &EnrollStudentResult{
				ClassID:         rec.ID,
				ClassTitle:      rec.Title,
				RosterSize:      rec.RosterSize(),
				AlreadyEnrolled: true,
				EnrolledAt:      rec.UpdatedAt,
			}, nil
		}
		return nil, fmt.Errorf("enroll_student: %w", err)
	}

	if err := h.classRepo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("enroll_student: failed to save class: %w", err)
	}

	if h.cache != nil {
		_ = h.cache.Invalidate(ctx, rec.ID)
	}

	event := shared.NewStudentEnrolledEvent(rec.ID, cmd.StudentID, rec.Code.String(), rec.RosterSize())
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &EnrollStudentResult{
		ClassID:    rec.ID,
		ClassTitle: rec.Title,
		RosterSize: rec.RosterSize(),
		EnrolledAt: rec.UpdatedAt,
	}, nil
}
