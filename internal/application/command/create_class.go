// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the local class store.
// Every successful mutation publishes a domain event so the cache and the
// sync machinery can react to it.
package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE CLASS COMMAND
// Creates a new class with a generated join code.
// ══════════════════════════════════════════════════════════════════════════════

// CreateClassCommand contains the data needed to create a class.
type CreateClassCommand struct {
	// ClassID is the id for the new class. Generated when empty.
	ClassID string

	// Title is the class title.
	Title string

	// EducatorID is the educator who owns the class.
	EducatorID string

	// StudentIDs is the initial roster. May be empty.
	StudentIDs []string

	// CorrelationID for tracing across operations.
	CorrelationID string
}

// Validate validates the command.
func (c CreateClassCommand) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("create_class: title must not be empty")
	}
	if strings.TrimSpace(c.EducatorID) == "" {
		return errors.New("create_class: educator_id must not be empty")
	}
	return nil
}

// CreateClassResult contains the result of class creation.
type CreateClassResult struct {
	// ClassID is the id of the created class.
	ClassID string

	// ClassCode is the generated join code.
	ClassCode string

	// RosterSize is the number of students enrolled at creation.
	RosterSize int

	// CreatedAt is when the class was created.
	CreatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreateClassHandler handles the CreateClassCommand.
type CreateClassHandler struct {
	classRepo      classroom.Repository
	eventPublisher shared.EventPublisher

	// Configuration
	maxCodeAttempts int
}

// CreateClassHandlerConfig contains configuration for the handler.
type CreateClassHandlerConfig struct {
	// MaxCodeAttempts is how many generated codes are tried before giving up
	// when the code space keeps colliding.
	MaxCodeAttempts int
}

// DefaultCreateClassHandlerConfig returns default configuration.
func DefaultCreateClassHandlerConfig() CreateClassHandlerConfig {
	return CreateClassHandlerConfig{
		MaxCodeAttempts: 5,
	}
}

// NewCreateClassHandler creates a new CreateClassHandler.
func NewCreateClassHandler(
	classRepo classroom.Repository,
	eventPublisher shared.EventPublisher,
	config CreateClassHandlerConfig,
) *CreateClassHandler {
	if config.MaxCodeAttempts <= 0 {
		config = DefaultCreateClassHandlerConfig()
	}

	return &CreateClassHandler{
		classRepo:       classRepo,
		eventPublisher:  eventPublisher,
		maxCodeAttempts: config.MaxCodeAttempts,
	}
}

// Handle executes the create class command.
func (h *CreateClassHandler) Handle(ctx context.Context, cmd CreateClassCommand) (*CreateClassResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_class: validation failed: %w", err)
	}

	classID := cmd.ClassID
	if classID == "" {
		classID = uuid.New().String()
	}

	exists, err := h.classRepo.Exists(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("create_class: failed to check id: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("create_class: %w: %s", classroom.ErrClassAlreadyExists, classID)
	}

	code, err := h.allocateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("create_class: %w", err)
	}

	rec, err := classroom.NewClassRecord(classroom.NewClassRecordParams{
		ID:         classID,
		Code:       code,
		Title:      cmd.Title,
		EducatorID: classroom.EducatorID(cmd.EducatorID),
		StudentIDs: classroom.RosterFromStrings(cmd.StudentIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("create_class: %w", err)
	}

	if err := h.classRepo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("create_class: failed to save class: %w", err)
	}

	event := shared.NewClassCreatedEvent(rec.ID, rec.Code.String(), rec.Title, rec.EducatorID.String())
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	// A failed publish must not fail the command.
	_ = h.eventPublisher.Publish(event)

	return &CreateClassResult{
		ClassID:    rec.ID,
		ClassCode:  rec.Code.String(),
		RosterSize: rec.RosterSize(),
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// allocateCode generates a join code that is not already taken.
func (h *CreateClassHandler) allocateCode(ctx context.Context) (classroom.ClassCode, error) {
	for attempt := 0; attempt < h.maxCodeAttempts; attempt++ {
		code, err := classroom.GenerateCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}

		taken, err := h.classRepo.CodeInUse(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}

	return "", fmt.Errorf("no free class code after %d attempts", h.maxCodeAttempts)
}
