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
// SYNC STATE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DocTypeSync is the document type for sync bookkeeping records.
const DocTypeSync = "sync"

const (
	checkpointDocID = "checkpoint"
	lastRunDocID    = "last_run"
)

// SyncStateRepository implements classroom.SyncRepository over the embedded
// store. Sync bookkeeping lives in the same store as the class records, so a
// device backup carries its sync position along with its data.
type SyncStateRepository struct {
	store *Store
}

// NewSyncStateRepository creates a new SyncStateRepository on the given store.
func NewSyncStateRepository(store *Store) *SyncStateRepository {
	return &SyncStateRepository{store: store}
}

// ─────────────────────────────────────────────────────────────────────────────
// Checkpoint
// ─────────────────────────────────────────────────────────────────────────────

type checkpointDocument struct {
	Type   string `json:"type"`
	Cursor string `json:"cursor"`
}

// GetCheckpoint returns the gateway changes-feed cursor. An empty cursor
// means no sync cycle has completed yet.
func (r *SyncStateRepository) GetCheckpoint(ctx context.Context) (string, error) {
	doc, err := r.store.GetDocument(ctx, shared.NewDocumentRef(DocTypeSync, checkpointDocID))
	if err != nil {
		if shared.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get sync checkpoint: %w", err)
	}

	var body checkpointDocument
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return "", shared.WrapError("docstore", "GetCheckpoint", shared.ErrStoreCorrupt,
			"checkpoint document", err)
	}
	return body.Cursor, nil
}

// SetCheckpoint stores the gateway changes-feed cursor.
func (r *SyncStateRepository) SetCheckpoint(ctx context.Context, cursor string) error {
	raw, err := json.Marshal(checkpointDocument{Type: DocTypeSync, Cursor: cursor})
	if err != nil {
		return fmt.Errorf("failed to encode sync checkpoint: %w", err)
	}

	doc := &Document{
		Ref:  shared.NewDocumentRef(DocTypeSync, checkpointDocID),
		Body: raw,
	}
	if err := r.store.PutDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to save sync checkpoint: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Last Sync Time
// ─────────────────────────────────────────────────────────────────────────────

type lastRunDocument struct {
	Type  string `json:"type"`
	RunAt string `json:"runAt"`
}

// GetLastSyncTime returns when the last successful sync cycle finished.
// The zero time means no cycle has completed yet.
func (r *SyncStateRepository) GetLastSyncTime(ctx context.Context) (time.Time, error) {
	doc, err := r.store.GetDocument(ctx, shared.NewDocumentRef(DocTypeSync, lastRunDocID))
	if err != nil {
		if shared.IsNotFound(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}

	var body lastRunDocument
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return time.Time{}, shared.WrapError("docstore", "GetLastSyncTime", shared.ErrStoreCorrupt,
			"last run document", err)
	}
	return parseTimeOrZero(body.RunAt), nil
}

// SetLastSyncTime records when a sync cycle finished.
func (r *SyncStateRepository) SetLastSyncTime(ctx context.Context, t time.Time) error {
	raw, err := json.Marshal(lastRunDocument{Type: DocTypeSync, RunAt: formatTime(t)})
	if err != nil {
		return fmt.Errorf("failed to encode last sync time: %w", err)
	}

	doc := &Document{
		Ref:  shared.NewDocumentRef(DocTypeSync, lastRunDocID),
		Body: raw,
	}
	if err := r.store.PutDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to save last sync time: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Dirty / Stale Queries
// The mirrored timestamp columns make these pure index scans: no JSON is
// parsed until a candidate row is already selected.
// ─────────────────────────────────────────────────────────────────────────────

// ListDirty returns classes modified after their last sync, oldest change
// first so long-pending records are pushed before fresh ones.
func (r *SyncStateRepository) ListDirty(ctx context.Context, limit int) ([]*classroom.ClassRecord, error) {
	query := `
		SELECT doc_id, body, created_at, updated_at, synced_at
		FROM documents
		WHERE doc_type = ? AND (synced_at = 0 OR updated_at > synced_at)
		ORDER BY updated_at ASC`
	args := []interface{}{DocTypeClass}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty classes: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return decodeClasses(docs)
}

// ListStale returns classes whose last sync (or creation, if never synced)
// is older than the given threshold.
func (r *SyncStateRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*classroom.ClassRecord, error) {
	cutoff := timeToMillis(time.Now().Add(-olderThan))

	rows, err := r.store.Query(ctx, `
		SELECT doc_id, body, created_at, updated_at, synced_at
		FROM documents
		WHERE doc_type = ? AND MAX(synced_at, created_at) < ?
		ORDER BY synced_at ASC`,
		DocTypeClass, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale classes: %w", err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, err
	}
	return decodeClasses(docs)
}

// MarkSynced stamps a class as synced at the given time. Both the mirrored
// column and the body field are updated in one statement, so the two views
// of the sync time cannot drift apart.
func (r *SyncStateRepository) MarkSynced(ctx context.Context, classID string, syncTime time.Time) error {
	result, err := r.store.Exec(ctx, `
		UPDATE documents
		SET synced_at = ?, body = json_set(body, '$.lastSyncedAt', ?)
		WHERE doc_id = ?`,
		timeToMillis(syncTime), formatTime(syncTime), classRef(classID).String(),
	)
	if err != nil {
		return fmt.Errorf("failed to mark class %s synced: %w", classID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mark synced result: %w", err)
	}
	if affected == 0 {
		return classroom.ErrClassNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sync Error Journal
// ─────────────────────────────────────────────────────────────────────────────

// SaveSyncError appends an entry to the sync error journal.
func (r *SyncStateRepository) SaveSyncError(ctx context.Context, serr classroom.SyncError) error {
	occurredAt := serr.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	_, err := r.store.Exec(ctx, `
		INSERT INTO sync_errors (class_id, stage, message, occurred_at, retries)
		VALUES (?, ?, ?, ?, ?)`,
		serr.ClassID, serr.Stage, serr.Message, timeToMillis(occurredAt), serr.Retries,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync error: %w", err)
	}
	return nil
}

// RecentSyncErrors returns journal entries recorded at or after the given
// moment, newest first.
func (r *SyncStateRepository) RecentSyncErrors(ctx context.Context, since time.Time) ([]classroom.SyncError, error) {
	rows, err := r.store.Query(ctx, `
		SELECT class_id, stage, message, occurred_at, retries
		FROM sync_errors
		WHERE occurred_at >= ?
		ORDER BY occurred_at DESC`,
		timeToMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync errors: %w", err)
	}
	defer rows.Close()

	var errs []classroom.SyncError
	for rows.Next() {
		var serr classroom.SyncError
		var occurredAt int64
		if err := rows.Scan(&serr.ClassID, &serr.Stage, &serr.Message, &occurredAt, &serr.Retries); err != nil {
			return nil, fmt.Errorf("failed to scan sync error: %w", err)
		}
		serr.OccurredAt = millisToTime(occurredAt)
		errs = append(errs, serr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync errors: %w", err)
	}
	return errs, nil
}
