package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT MODEL
// A document is a typed JSON body addressed by the derived key "<type>::<id>".
// The body is the document of record; the timestamp columns exist only so
// ordering and sync queries stay off the JSON parser.
// ══════════════════════════════════════════════════════════════════════════════

// Document is a stored document together with its bookkeeping columns.
type Document struct {
	Ref       shared.DocumentRef
	Body      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
	SyncedAt  time.Time
}

// timeToMillis converts a time to unix milliseconds, with zero time mapping
// to 0 ("never").
func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// millisToTime converts unix milliseconds back to a UTC time, with 0
// mapping to the zero time.
func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// PutDocument inserts or fully replaces a document. The write is a single
// statement, so every save is its own transaction.
func (s *Store) PutDocument(ctx context.Context, doc *Document) error {
	if !doc.Ref.IsValid() {
		return shared.ErrDocumentIDMissing
	}
	if !json.Valid(doc.Body) {
		return fmt.Errorf("docstore: put %s: body is not valid JSON", doc.Ref)
	}

	now := time.Now().UTC()
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := doc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO documents (doc_id, doc_type, body, created_at, updated_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at,
			synced_at = excluded.synced_at
	`

	_, err := s.Exec(ctx, query,
		doc.Ref.String(),
		doc.Ref.Type,
		string(doc.Body),
		timeToMillis(createdAt),
		timeToMillis(updatedAt),
		timeToMillis(doc.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("docstore: failed to put %s: %w", doc.Ref, err)
	}

	return nil
}

// GetDocument returns a document by reference.
// Returns shared.ErrDocumentNotFound when the document does not exist;
// absence is a normal outcome, not a store failure.
func (s *Store) GetDocument(ctx context.Context, ref shared.DocumentRef) (*Document, error) {
	query := `
		SELECT doc_id, body, created_at, updated_at, synced_at
		FROM documents
		WHERE doc_id = ?
	`

	row := s.QueryRow(ctx, query, ref.String())
	return scanDocument(row)
}

// DeleteDocument removes a document by reference.
// Returns shared.ErrDocumentNotFound when the document does not exist.
func (s *Store) DeleteDocument(ctx context.Context, ref shared.DocumentRef) error {
	result, err := s.Exec(ctx, "DELETE FROM documents WHERE doc_id = ?", ref.String())
	if err != nil {
		return fmt.Errorf("docstore: failed to delete %s: %w", ref, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("docstore: failed to read delete result: %w", err)
	}
	if affected == 0 {
		return shared.ErrDocumentNotFound
	}

	return nil
}

// CountByType returns the number of documents of the given type.
func (s *Store) CountByType(ctx context.Context, docType string) (int, error) {
	var count int
	err := s.QueryRow(ctx,
		"SELECT COUNT(*) FROM documents WHERE doc_type = ?", docType,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("docstore: failed to count %q documents: %w", docType, err)
	}
	return count, nil
}

// QueryByType returns all documents of the given type, most recently
// updated first.
func (s *Store) QueryByType(ctx context.Context, docType string) ([]*Document, error) {
	query := `
		SELECT doc_id, body, created_at, updated_at, synced_at
		FROM documents
		WHERE doc_type = ?
		ORDER BY updated_at DESC, doc_id
	`

	rows, err := s.Query(ctx, query, docType)
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to query %q documents: %w", docType, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// QueryByField returns documents of the given type whose body field at
// jsonPath equals value. jsonPath uses SQLite JSON path syntax, e.g.
// "$.educatorId".
func (s *Store) QueryByField(ctx context.Context, docType, jsonPath string, value interface{}) ([]*Document, error) {
	query := `
		SELECT doc_id, body, created_at, updated_at, synced_at
		FROM documents
		WHERE doc_type = ? AND json_extract(body, ?) = ?
		ORDER BY updated_at DESC, doc_id
	`

	rows, err := s.Query(ctx, query, docType, jsonPath, value)
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to query %q by %s: %w", docType, jsonPath, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// QueryByMembership returns documents of the given type whose body array at
// arrayPath contains value, e.g. arrayPath "$.studentIds".
func (s *Store) QueryByMembership(ctx context.Context, docType, arrayPath string, value interface{}) ([]*Document, error) {
	query := `
		SELECT d.doc_id, d.body, d.created_at, d.updated_at, d.synced_at
		FROM documents d
		WHERE d.doc_type = ?
		  AND EXISTS (
			SELECT 1 FROM json_each(d.body, ?) AS m
			WHERE m.value = ?
		  )
		ORDER BY d.updated_at DESC, d.doc_id
	`

	rows, err := s.Query(ctx, query, docType, arrayPath, value)
	if err != nil {
		return nil, fmt.Errorf("docstore: failed to query %q by membership in %s: %w", docType, arrayPath, err)
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func scanDocument(row *sql.Row) (*Document, error) {
	var (
		docID     string
		body      string
		createdAt int64
		updatedAt int64
		syncedAt  int64
	)

	if err := row.Scan(&docID, &body, &createdAt, &updatedAt, &syncedAt); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("docstore: failed to scan document: %w", err)
	}

	ref, err := shared.ParseDocumentRef(docID)
	if err != nil {
		return nil, err
	}

	return &Document{
		Ref:       ref,
		Body:      json.RawMessage(body),
		CreatedAt: millisToTime(createdAt),
		UpdatedAt: millisToTime(updatedAt),
		SyncedAt:  millisToTime(syncedAt),
	}, nil
}

func scanDocuments(rows *sql.Rows) ([]*Document, error) {
	docs := make([]*Document, 0)
	for rows.Next() {
		var (
			docID     string
			body      string
			createdAt int64
			updatedAt int64
			syncedAt  int64
		)

		if err := rows.Scan(&docID, &body, &createdAt, &updatedAt, &syncedAt); err != nil {
			return nil, fmt.Errorf("docstore: failed to scan document row: %w", err)
		}

		ref, err := shared.ParseDocumentRef(docID)
		if err != nil {
			return nil, err
		}

		docs = append(docs, &Document{
			Ref:       ref,
			Body:      json.RawMessage(body),
			CreatedAt: millisToTime(createdAt),
			UpdatedAt: millisToTime(updatedAt),
			SyncedAt:  millisToTime(syncedAt),
		})
	}

	return docs, rows.Err()
}
