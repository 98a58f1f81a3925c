// Package shared contains common domain types, errors, and events that are
// used across all domain packages.
package shared

import (
	"fmt"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Document Reference Value Object
// ═══════════════════════════════════════════════════════════════════════════

// RefSeparator separates the document type from the record identifier
// inside a stored document key.
const RefSeparator = "::"

// DocumentRef identifies a stored document as "<type>::<id>".
// The mapping between a record identifier and its document key is bijective:
// the key is always derived from the type and the id, never stored on its own.
type DocumentRef struct {
	Type string
	ID   string
}

// NewDocumentRef creates a reference from a document type and record id.
func NewDocumentRef(docType, id string) DocumentRef {
	return DocumentRef{Type: docType, ID: id}
}

// ParseDocumentRef splits a stored document key back into its parts.
// Returns an error when the key does not contain the separator.
func ParseDocumentRef(key string) (DocumentRef, error) {
	idx := strings.Index(key, RefSeparator)
	if idx <= 0 || idx+len(RefSeparator) >= len(key) {
		return DocumentRef{}, WrapError("shared", "ParseDocumentRef", ErrInvalidFormat,
			"document key must look like <type>::<id>", fmt.Errorf("got %q", key))
	}
	return DocumentRef{
		Type: key[:idx],
		ID:   key[idx+len(RefSeparator):],
	}, nil
}

// String renders the stored document key.
func (r DocumentRef) String() string {
	return r.Type + RefSeparator + r.ID
}

// IsValid checks that both parts are present and the id itself does not
// contain the separator (which would break the bijection).
func (r DocumentRef) IsValid() bool {
	return r.Type != "" && r.ID != "" &&
		!strings.Contains(r.Type, RefSeparator) &&
		!strings.Contains(r.ID, RefSeparator)
}

// ═══════════════════════════════════════════════════════════════════════════
// TimeRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange represents a time period.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsValid checks if the time range is valid.
func (t TimeRange) IsValid() bool {
	return !t.From.IsZero() && !t.To.IsZero() && !t.From.After(t.To)
}

// Duration returns the duration of the time range.
func (t TimeRange) Duration() time.Duration {
	return t.To.Sub(t.From)
}

// Contains checks if a time is within the range.
func (t TimeRange) Contains(tm time.Time) bool {
	return (tm.Equal(t.From) || tm.After(t.From)) && (tm.Equal(t.To) || tm.Before(t.To))
}

// NewTimeRange creates a new TimeRange with validation.
func NewTimeRange(from, to time.Time) (TimeRange, error) {
	tr := TimeRange{From: from, To: to}
	if !tr.IsValid() {
		return TimeRange{}, NewDomainError("shared", "NewTimeRange", ErrInvalidInput, "'from' must be before 'to'")
	}
	return tr, nil
}

// Last24Hours returns a TimeRange for the last 24 hours.
func Last24Hours() TimeRange {
	now := time.Now()
	return TimeRange{
		From: now.Add(-24 * time.Hour),
		To:   now,
	}
}

// LastNDays returns a TimeRange for the last N days.
func LastNDays(n int) TimeRange {
	now := time.Now()
	return TimeRange{
		From: now.AddDate(0, 0, -n),
		To:   now,
	}
}
