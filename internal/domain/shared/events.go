// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Class events
	EventClassCreated    EventType = "class.created"
	EventClassRenamed    EventType = "class.renamed"
	EventClassDeleted    EventType = "class.deleted"
	EventStudentEnrolled EventType = "class.student_enrolled"
	EventStudentRemoved  EventType = "class.student_removed"

	// Sync events
	EventClassSynced     EventType = "sync.class_synced"
	EventClassPulled     EventType = "sync.class_pulled"
	EventSyncCompleted   EventType = "sync.completed"
	EventSyncFailed      EventType = "sync.failed"
	EventCheckpointMoved EventType = "sync.checkpoint_moved"

	// System events
	EventClassStale     EventType = "system.class_stale"
	EventStoreCompacted EventType = "system.store_compacted"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Class Events
// ═══════════════════════════════════════════════════════════════════════════

// ClassCreatedEvent is emitted when an educator creates a new class.
type ClassCreatedEvent struct {
	BaseEvent
	ClassCode  string `json:"class_code"`
	Title      string `json:"title"`
	EducatorID string `json:"educator_id"`
}

// Payload implements Event interface.
func (e ClassCreatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"class_code":  e.ClassCode,
		"title":       e.Title,
		"educator_id": e.EducatorID,
	}
}

// NewClassCreatedEvent creates a new ClassCreatedEvent.
func NewClassCreatedEvent(classID, classCode, title, educatorID string) ClassCreatedEvent {
	return ClassCreatedEvent{
		BaseEvent:  NewBaseEvent(EventClassCreated, classID),
		ClassCode:  classCode,
		Title:      title,
		EducatorID: educatorID,
	}
}

// ClassRenamedEvent is emitted when a class title changes.
type ClassRenamedEvent struct {
	BaseEvent
	OldTitle string `json:"old_title"`
	NewTitle string `json:"new_title"`
}

// Payload implements Event interface.
func (e ClassRenamedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_title": e.OldTitle,
		"new_title": e.NewTitle,
	}
}

// NewClassRenamedEvent creates a new ClassRenamedEvent.
func NewClassRenamedEvent(classID, oldTitle, newTitle string) ClassRenamedEvent {
	return ClassRenamedEvent{
		BaseEvent: NewBaseEvent(EventClassRenamed, classID),
		OldTitle:  oldTitle,
		NewTitle:  newTitle,
	}
}

// ClassDeletedEvent is emitted when a class is removed by an explicit
// admin action. Regular flows never delete classes.
type ClassDeletedEvent struct {
	BaseEvent
	ClassCode  string `json:"class_code"`
	EducatorID string `json:"educator_id"`
	Reason     string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e ClassDeletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"class_code":  e.ClassCode,
		"educator_id": e.EducatorID,
		"reason":      e.Reason,
	}
}

// NewClassDeletedEvent creates a new ClassDeletedEvent.
func NewClassDeletedEvent(classID, classCode, educatorID, reason string) ClassDeletedEvent {
	return ClassDeletedEvent{
		BaseEvent:  NewBaseEvent(EventClassDeleted, classID),
		ClassCode:  classCode,
		EducatorID: educatorID,
		Reason:     reason,
	}
}

// StudentEnrolledEvent is emitted when a student joins a class.
type StudentEnrolledEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	ClassCode  string `json:"class_code"`
	RosterSize int    `json:"roster_size"`
}

// Payload implements Event interface.
func (e StudentEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"class_code":  e.ClassCode,
		"roster_size": e.RosterSize,
	}
}

// NewStudentEnrolledEvent creates a new StudentEnrolledEvent.
func NewStudentEnrolledEvent(classID, studentID, classCode string, rosterSize int) StudentEnrolledEvent {
	return StudentEnrolledEvent{
		BaseEvent:  NewBaseEvent(EventStudentEnrolled, classID),
		StudentID:  studentID,
		ClassCode:  classCode,
		RosterSize: rosterSize,
	}
}

// StudentRemovedEvent is emitted when a student leaves or is removed
// from a class.
type StudentRemovedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	ClassCode  string `json:"class_code"`
	RosterSize int    `json:"roster_size"`
}

// Payload implements Event interface.
func (e StudentRemovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"class_code":  e.ClassCode,
		"roster_size": e.RosterSize,
	}
}

// NewStudentRemovedEvent creates a new StudentRemovedEvent.
func NewStudentRemovedEvent(classID, studentID, classCode string, rosterSize int) StudentRemovedEvent {
	return StudentRemovedEvent{
		BaseEvent:  NewBaseEvent(EventStudentRemoved, classID),
		StudentID:  studentID,
		ClassCode:  classCode,
		RosterSize: rosterSize,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Sync Events
// ═══════════════════════════════════════════════════════════════════════════

// ClassSyncedEvent is emitted when a local class is pushed to the gateway.
type ClassSyncedEvent struct {
	BaseEvent
	ClassCode string    `json:"class_code"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Payload implements Event interface.
func (e ClassSyncedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"class_code": e.ClassCode,
		"synced_at":  e.SyncedAt.Format(time.RFC3339),
	}
}

// NewClassSyncedEvent creates a new ClassSyncedEvent.
func NewClassSyncedEvent(classID, classCode string, syncedAt time.Time) ClassSyncedEvent {
	return ClassSyncedEvent{
		BaseEvent: NewBaseEvent(EventClassSynced, classID),
		ClassCode: classCode,
		SyncedAt:  syncedAt,
	}
}

// ClassPulledEvent is emitted when a remote change is applied locally.
type ClassPulledEvent struct {
	BaseEvent
	ClassCode string `json:"class_code"`
	Created   bool   `json:"created"` // true when the class was not known locally
}

// Payload implements Event interface.
func (e ClassPulledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"class_code": e.ClassCode,
		"created":    e.Created,
	}
}

// NewClassPulledEvent creates a new ClassPulledEvent.
func NewClassPulledEvent(classID, classCode string, created bool) ClassPulledEvent {
	return ClassPulledEvent{
		BaseEvent: NewBaseEvent(EventClassPulled, classID),
		ClassCode: classCode,
		Created:   created,
	}
}

// ClassStaleEvent is emitted when a class has not synced for too long.
type ClassStaleEvent struct {
	BaseEvent
	ClassCode    string        `json:"class_code"`
	LastSyncedAt time.Time     `json:"last_synced_at"`
	StaleFor     time.Duration `json:"stale_for"`
}

// Payload implements Event interface.
func (e ClassStaleEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"class_code":     e.ClassCode,
		"last_synced_at": e.LastSyncedAt.Format(time.RFC3339),
		"stale_for":      e.StaleFor.String(),
	}
}

// NewClassStaleEvent creates a new ClassStaleEvent.
func NewClassStaleEvent(classID, classCode string, lastSyncedAt time.Time, staleFor time.Duration) ClassStaleEvent {
	return ClassStaleEvent{
		BaseEvent:    NewBaseEvent(EventClassStale, classID),
		ClassCode:    classCode,
		LastSyncedAt: lastSyncedAt,
		StaleFor:     staleFor,
	}
}

// SyncCompletedEvent is emitted when a full sync cycle finishes.
type SyncCompletedEvent struct {
	BaseEvent
	Pulled   int           `json:"pulled"`
	Pushed   int           `json:"pushed"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e SyncCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"pulled":   e.Pulled,
		"pushed":   e.Pushed,
		"failed":   e.Failed,
		"duration": e.Duration.String(),
	}
}

// NewSyncCompletedEvent creates a new SyncCompletedEvent.
func NewSyncCompletedEvent(pulled, pushed, failed int, duration time.Duration) SyncCompletedEvent {
	return SyncCompletedEvent{
		BaseEvent: NewBaseEvent(EventSyncCompleted, "sync"),
		Pulled:    pulled,
		Pushed:    pushed,
		Failed:    failed,
		Duration:  duration,
	}
}

// SyncFailedEvent is emitted when a sync cycle aborts.
type SyncFailedEvent struct {
	BaseEvent
	Reason string `json:"reason"`
}

// Payload implements Event interface.
func (e SyncFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"reason": e.Reason,
	}
}

// NewSyncFailedEvent creates a new SyncFailedEvent.
func NewSyncFailedEvent(reason string) SyncFailedEvent {
	return SyncFailedEvent{
		BaseEvent: NewBaseEvent(EventSyncFailed, "sync"),
		Reason:    reason,
	}
}

// CheckpointMovedEvent is emitted when the changes-feed cursor advances.
type CheckpointMovedEvent struct {
	BaseEvent
	OldCursor string `json:"old_cursor"`
	NewCursor string `json:"new_cursor"`
}

// Payload implements Event interface.
func (e CheckpointMovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_cursor": e.OldCursor,
		"new_cursor": e.NewCursor,
	}
}

// NewCheckpointMovedEvent creates a new CheckpointMovedEvent.
func NewCheckpointMovedEvent(oldCursor, newCursor string) CheckpointMovedEvent {
	return CheckpointMovedEvent{
		BaseEvent: NewBaseEvent(EventCheckpointMoved, "sync"),
		OldCursor: oldCursor,
		NewCursor: newCursor,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// System Events
// ═══════════════════════════════════════════════════════════════════════════

// StoreCompactedEvent is emitted after store maintenance has run.
type StoreCompactedEvent struct {
	BaseEvent
	BytesBefore int64         `json:"bytes_before"`
	BytesAfter  int64         `json:"bytes_after"`
	Duration    time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e StoreCompactedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"bytes_before": e.BytesBefore,
		"bytes_after":  e.BytesAfter,
		"duration":     e.Duration.String(),
	}
}

// NewStoreCompactedEvent creates a new StoreCompactedEvent.
func NewStoreCompactedEvent(before, after int64, duration time.Duration) StoreCompactedEvent {
	return StoreCompactedEvent{
		BaseEvent:   NewBaseEvent(EventStoreCompacted, "store"),
		BytesBefore: before,
		BytesAfter:  after,
		Duration:    duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
