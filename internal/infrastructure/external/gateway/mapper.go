// Package gateway implements the Klypt sync gateway API client.
package gateway

import (
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - DTO to Domain Entity transformations
// ══════════════════════════════════════════════════════════════════════════════

// Mapper handles transformation between gateway DTOs and domain entities.
// This follows the Anti-Corruption Layer pattern from DDD, protecting our
// domain from wire format changes.
type Mapper struct{}

// NewMapper creates a new Mapper instance.
func NewMapper() *Mapper {
	return &Mapper{}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASS DOCUMENT MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// RecordFromDTO converts a ClassDocumentDTO to a domain ClassRecord.
// Missing optional fields map to empty strings and an empty roster, the same
// defaults the local store uses. LastSyncedAt is local bookkeeping and is
// never taken from the wire; the sync job stamps it after a successful
// exchange.
func (m *Mapper) RecordFromDTO(dto *ClassDocumentDTO) (*classroom.ClassRecord, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}
	if dto.ID == "" {
		return nil, &MappingError{Field: "id", Message: "class id is required"}
	}

	return &classroom.ClassRecord{
		ID:         dto.ID,
		Code:       classroom.NormalizeCode(dto.ClassCode),
		Title:      dto.Title,
		EducatorID: classroom.EducatorID(dto.EducatorID),
		StudentIDs: classroom.RosterFromStrings(dto.StudentIDs),
		CreatedAt:  dto.CreatedAt.UTC(),
		UpdatedAt:  dto.UpdatedAt.UTC(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHANGES FEED MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// ClassChange is a single decoded entry of the gateway changes feed.
type ClassChange struct {
	// Seq is the feed position of this change
	Seq string

	// ClassID is the class the change applies to
	ClassID string

	// Deleted marks a remote tombstone
	Deleted bool

	// Record is the decoded document (nil for tombstones)
	Record *classroom.ClassRecord
}

// ChangesPage is one decoded page of the gateway changes feed.
type ChangesPage struct {
	// Changes are the decoded entries, oldest first
	Changes []ClassChange

	// NextCursor is the position to resume from on the next pull
	NextCursor string

	// More indicates further pages are immediately available
	More bool
}

// ChangeFromDTO converts a single feed entry to a ClassChange.
func (m *Mapper) ChangeFromDTO(dto *ClassChangeDTO) (*ClassChange, error) {
	if dto == nil {
		return nil, ErrNilDTO
	}

	if dto.Deleted {
		if dto.ClassID == "" {
			return nil, &MappingError{Field: "class_id", Message: "tombstone without class id"}
		}
		return &ClassChange{
			Seq:     dto.Seq,
			ClassID: dto.ClassID,
			Deleted: true,
		}, nil
	}

	if !dto.HasDocument() {
		return nil, &MappingError{Field: "doc", Message: "change without document body"}
	}

	classID := dto.ClassID
	if classID == "" {
		classID = dto.Doc.ID
	}
	if classID != dto.Doc.ID {
		return nil, &MappingError{
			Field:   "class_id",
			Message: "feed entry id does not match document id",
		}
	}

	rec, err := m.RecordFromDTO(dto.Doc)
	if err != nil {
		return nil, err
	}

	return &ClassChange{
		Seq:     dto.Seq,
		ClassID: classID,
		Record:  rec,
	}, nil
}

// ChangesFromDTO converts a changes page to decoded entries.
// Invalid entries are skipped (with errors collected) rather than failing
// the entire page; one corrupt feed entry must not stall the sync cycle.
func (m *Mapper) ChangesFromDTO(dto *ChangesPageDTO) (*ChangesPage, []error) {
	if dto == nil {
		return &ChangesPage{Changes: []ClassChange{}}, nil
	}

	page := &ChangesPage{
		Changes:    make([]ClassChange, 0, len(dto.Changes)),
		NextCursor: dto.NextCursor,
		More:       dto.More,
	}

	var errs []error
	for i := range dto.Changes {
		change, err := m.ChangeFromDTO(&dto.Changes[i])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		page.Changes = append(page.Changes, *change)
	}

	return page, errs
}

// ══════════════════════════════════════════════════════════════════════════════
// REVERSE MAPPING (Domain to DTO) - For pushing local changes
// ══════════════════════════════════════════════════════════════════════════════

// RecordToDTO converts a domain ClassRecord to the wire representation.
// The roster is serialized sorted for deterministic payloads.
func (m *Mapper) RecordToDTO(rec *classroom.ClassRecord) *ClassDocumentDTO {
	if rec == nil {
		return nil
	}

	return &ClassDocumentDTO{
		ID:         rec.ID,
		ClassCode:  rec.Code.String(),
		Title:      rec.Title,
		EducatorID: rec.EducatorID.String(),
		StudentIDs: rec.StudentIDs.Strings(),
		CreatedAt:  rec.CreatedAt.UTC(),
		UpdatedAt:  touchedOrNow(rec.UpdatedAt),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ErrNilDTO is returned when trying to map a nil DTO.
var ErrNilDTO = &MappingError{Message: "cannot map nil DTO"}

// MappingError represents an error during DTO to domain mapping.
type MappingError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *MappingError) Error() string {
	if e.Field != "" {
		return "mapping error for field " + e.Field + ": " + e.Message
	}
	return "mapping error: " + e.Message
}

// Unwrap returns the underlying error.
func (e *MappingError) Unwrap() error {
	return e.Cause
}

// touchedOrNow returns t unless it is the zero time, in which case the
// current time is used. Keeps pushed payloads valid for gateways that
// require a modification timestamp.
func touchedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
