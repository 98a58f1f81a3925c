// Package gateway implements the Klypt sync gateway API client.
// This package handles all communication with the remote class-document
// service: pulling the changes feed, fetching single documents, and
// pushing locally modified classes.
package gateway

import (
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse represents a generic API response wrapper.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta contains pagination and additional metadata.
type Meta struct {
	Total      int    `json:"total,omitempty"`
	Returned   int    `json:"returned,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
	ServerTime string `json:"server_time,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASS DOCUMENT DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ClassDocumentDTO represents a class document as carried on the gateway wire.
// This is the external representation that needs to be mapped to our domain
// model; the gateway never sees local bookkeeping such as last_synced_at.
type ClassDocumentDTO struct {
	// ID is the class identifier, shared between all devices
	ID string `json:"id"`

	// ClassCode is the short join code
	ClassCode string `json:"class_code,omitempty"`

	// Title is the display name of the class
	Title string `json:"title,omitempty"`

	// EducatorID is the owning educator
	EducatorID string `json:"educator_id,omitempty"`

	// StudentIDs is the enrolled roster
	StudentIDs []string `json:"student_ids,omitempty"`

	// CreatedAt is when the class was created
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the class was last modified on any device
	UpdatedAt time.Time `json:"updated_at"`
}

// Touched returns the most recent modification time of the document,
// falling back to the creation time when updated_at is missing.
// Used for last-writer-wins comparisons during sync.
func (d *ClassDocumentDTO) Touched() time.Time {
	if !d.UpdatedAt.IsZero() {
		return d.UpdatedAt
	}
	return d.CreatedAt
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANGES FEED DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ClassChangeDTO represents a single entry in the gateway changes feed.
type ClassChangeDTO struct {
	// Seq is the opaque feed position of this change
	Seq string `json:"seq"`

	// ClassID is the class the change applies to
	ClassID string `json:"class_id"`

	// Deleted marks a tombstone: the class was removed remotely
	Deleted bool `json:"deleted,omitempty"`

	// Doc is the full document after the change (absent for tombstones)
	Doc *ClassDocumentDTO `json:"doc,omitempty"`
}

// HasDocument returns true if the change carries a usable document body.
func (c *ClassChangeDTO) HasDocument() bool {
	return c.Doc != nil && c.Doc.ID != ""
}

// ChangesPageDTO represents one page of the changes feed.
type ChangesPageDTO struct {
	// Changes are the feed entries, oldest first
	Changes []ClassChangeDTO `json:"changes"`

	// NextCursor is the position to resume from on the next pull
	NextCursor string `json:"next_cursor,omitempty"`

	// More indicates further pages are immediately available
	More bool `json:"more,omitempty"`
}

// HasChanges returns true if this page carries any feed entries.
func (p *ChangesPageDTO) HasChanges() bool {
	return len(p.Changes) > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// PUSH DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PushResultDTO represents the gateway's acknowledgement of a pushed class.
type PushResultDTO struct {
	// ClassID is the class that was pushed
	ClassID string `json:"class_id"`

	// Accepted indicates the gateway stored the pushed version
	Accepted bool `json:"accepted"`

	// Seq is the feed position assigned to the accepted change
	Seq string `json:"seq,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents an error response from the gateway.
type APIErrorDTO struct {
	// Code is the machine-readable error code
	Code string `json:"code"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Details contains additional error details
	Details map[string]interface{} `json:"details,omitempty"`

	// RequestID is the ID of the failed request (for debugging)
	RequestID string `json:"request_id,omitempty"`

	// HTTPStatus is the HTTP status the error arrived with.
	// Filled in by the client, never part of the wire body.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap chains to the shared rejection sentinel so callers can match with
// errors.Is(err, shared.ErrGatewayRejected).
func (e *APIErrorDTO) Unwrap() error {
	return shared.ErrGatewayRejected
}

// IsNotFound returns true if the gateway reported a missing document.
func (e *APIErrorDTO) IsNotFound() bool {
	return e.HTTPStatus == 404 || e.Code == "NOT_FOUND"
}

// IsConflict returns true if the gateway rejected a push because the
// remote version is newer.
func (e *APIErrorDTO) IsConflict() bool {
	return e.HTTPStatus == 409 || e.Code == "CONFLICT"
}
