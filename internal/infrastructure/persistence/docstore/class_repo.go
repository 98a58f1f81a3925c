package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DocTypeClass is the document type discriminator for class records.
// It separates classes from other record families sharing the store.
const DocTypeClass = "class"

// ClassRepository implements classroom.Repository over the embedded store.
type ClassRepository struct {
	store *Store
}

// NewClassRepository creates a new ClassRepository on the given store handle.
func NewClassRepository(store *Store) *ClassRepository {
	return &ClassRepository{store: store}
}

// classRef derives the stored document key for a class record id.
// The mapping is bijective: the key is never stored on its own.
func classRef(id string) shared.DocumentRef {
	return shared.NewDocumentRef(DocTypeClass, id)
}

// ─────────────────────────────────────────────────────────────────────────────
// Serialization boundary
// The JSON body is the document of record. All defaulting for missing or
// malformed fields happens here, in one place: readers never see nulls.
// ─────────────────────────────────────────────────────────────────────────────

// classDocument is the wire shape of a class record inside the store.
// The record id lives only in the document key, never in the body.
type classDocument struct {
	Type         string   `json:"type"`
	ClassCode    string   `json:"classCode"`
	ClassTitle   string   `json:"classTitle"`
	EducatorID   string   `json:"educatorId"`
	StudentIDs   []string `json:"studentIds"`
	CreatedAt    string   `json:"createdAt,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
	LastSyncedAt string   `json:"lastSyncedAt,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimeOrZero is deliberately total: a missing or malformed timestamp
// reads as the zero time instead of failing the whole record.
func parseTimeOrZero(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// encodeClass serializes a record into its stored document.
func encodeClass(rec *classroom.ClassRecord) (*Document, error) {
	body := classDocument{
		Type:         DocTypeClass,
		ClassCode:    rec.Code.String(),
		ClassTitle:   rec.Title,
		EducatorID:   rec.EducatorID.String(),
		StudentIDs:   rec.StudentIDs.Strings(),
		CreatedAt:    formatTime(rec.CreatedAt),
		UpdatedAt:    formatTime(rec.UpdatedAt),
		LastSyncedAt: formatTime(rec.LastSyncedAt),
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to encode class %s: %w", rec.ID, err)
	}

	return &Document{
		Ref:       classRef(rec.ID),
		Body:      raw,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		SyncedAt:  rec.LastSyncedAt,
	}, nil
}

// decodeClass deserializes a stored document into a record. Missing fields
// become empty strings, empty rosters, or zero times, never nil.
func decodeClass(doc *Document) (*classroom.ClassRecord, error) {
	var body classDocument
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, shared.WrapError("docstore", "Decode", shared.ErrStoreCorrupt,
			fmt.Sprintf("class document %s", doc.Ref), err)
	}

	createdAt := parseTimeOrZero(body.CreatedAt)
	if createdAt.IsZero() {
		createdAt = doc.CreatedAt
	}
	updatedAt := parseTimeOrZero(body.UpdatedAt)
	if updatedAt.IsZero() {
		updatedAt = doc.UpdatedAt
	}
	lastSyncedAt := parseTimeOrZero(body.LastSyncedAt)
	if lastSyncedAt.IsZero() {
		lastSyncedAt = doc.SyncedAt
	}

	return &classroom.ClassRecord{
		ID:           doc.Ref.ID,
		Code:         classroom.ClassCode(body.ClassCode),
		Title:        body.ClassTitle,
		EducatorID:   classroom.EducatorID(body.EducatorID),
		StudentIDs:   classroom.RosterFromStrings(body.StudentIDs),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		LastSyncedAt: lastSyncedAt,
	}, nil
}

func decodeClasses(docs []*Document) ([]*classroom.ClassRecord, error) {
	records := make([]*classroom.ClassRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeClass(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// CRUD Operations
// ─────────────────────────────────────────────────────────────────────────────

// Get returns a class by record id.
func (r *ClassRepository) Get(ctx context.Context, id string) (*classroom.ClassRecord, error) {
	doc, err := r.store.GetDocument(ctx, classRef(id))
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, classroom.ErrClassNotFound
		}
		return nil, fmt.Errorf("failed to get class %s: %w", id, err)
	}

	return decodeClass(doc)
}

// Save creates or fully replaces a class document in a single transaction.
func (r *ClassRepository) Save(ctx context.Context, rec *classroom.ClassRecord) error {
	if rec == nil || rec.ID == "" {
		return classroom.ErrInvalidClassID
	}

	doc, err := encodeClass(rec)
	if err != nil {
		return err
	}

	if err := r.store.PutDocument(ctx, doc); err != nil {
		if IsUniqueViolation(err) {
			return classroom.ErrCodeTaken
		}
		return fmt.Errorf("failed to save class %s: %w", rec.ID, err)
	}

	return nil
}

// Delete removes a class document. Only explicit admin actions call this.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	err := r.store.DeleteDocument(ctx, classRef(id))
	if err != nil {
		if shared.IsNotFound(err) {
			return classroom.ErrClassNotFound
		}
		return fmt.Errorf("failed to delete class %s: %w", id, err)
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Bulk Operations
// ─────────────────────────────────────────────────────────────────────────────

// Count returns the number of class documents.
func (r *ClassRepository) Count(ctx context.Context) (int, error) {
	return r.store.CountByType(ctx, DocTypeClass)
}

// ListAll returns every class, most recently updated first.
func (r *ClassRepository) ListAll(ctx context.Context) ([]*classroom.ClassRecord, error) {
	docs, err := r.store.QueryByType(ctx, DocTypeClass)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	return decodeClasses(docs)
}

// ListByEducator returns classes owned by the given educator.
func (r *ClassRepository) ListByEducator(ctx context.Context, educatorID classroom.EducatorID) ([]*classroom.ClassRecord, error) {
	docs, err := r.store.QueryByField(ctx, DocTypeClass, "$.educatorId", educatorID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list classes for educator %s: %w", educatorID, err)
	}

	return decodeClasses(docs)
}

// ListByStudent returns classes whose roster contains the given student.
func (r *ClassRepository) ListByStudent(ctx context.Context, studentID classroom.StudentID) ([]*classroom.ClassRecord, error) {
	docs, err := r.store.QueryByMembership(ctx, DocTypeClass, "$.studentIds", studentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list classes for student %s: %w", studentID, err)
	}

	return decodeClasses(docs)
}

// ─────────────────────────────────────────────────────────────────────────────
// Search
// ─────────────────────────────────────────────────────────────────────────────

// FindByCode returns the class with the given join code.
func (r *ClassRepository) FindByCode(ctx context.Context, code classroom.ClassCode) (*classroom.ClassRecord, error) {
	docs, err := r.store.QueryByField(ctx, DocTypeClass, "$.classCode", code.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find class by code: %w", err)
	}
	if len(docs) == 0 {
		return nil, classroom.ErrClassNotFound
	}

	// The unique code index allows at most one match.
	return decodeClass(docs[0])
}

// ─────────────────────────────────────────────────────────────────────────────
// Existence Checks
// ─────────────────────────────────────────────────────────────────────────────

// Exists reports whether a class with the given id is stored.
func (r *ClassRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.store.QueryRow(ctx,
		"SELECT 1 FROM documents WHERE doc_id = ?", classRef(id).String(),
	).Scan(&one)
	if err != nil {
		if IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check class existence: %w", err)
	}
	return true, nil
}

// CodeInUse reports whether a join code is already taken.
func (r *ClassRepository) CodeInUse(ctx context.Context, code classroom.ClassCode) (bool, error) {
	var one int
	err := r.store.QueryRow(ctx, `
		SELECT 1 FROM documents
		WHERE doc_type = ? AND json_extract(body, '$.classCode') = ?`,
		DocTypeClass, code.String(),
	).Scan(&one)
	if err != nil {
		if IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check code usage: %w", err)
	}
	return true, nil
}
