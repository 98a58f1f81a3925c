package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore_OpenAndClose(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.False(t, store.IsClosed())
	assert.NoError(t, store.Ping(ctx))
	assert.Equal(t, ":memory:", store.Path())

	assert.NoError(t, store.Close())
	assert.True(t, store.IsClosed())
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)

	// Closing twice is harmless.
	assert.NoError(t, store.Close())
}

func TestStore_PutAndGetDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	doc := &Document{
		Ref:  shared.NewDocumentRef("class", "c1"),
		Body: json.RawMessage(`{"type":"class","classTitle":"Algebra"}`),
	}
	assert.NoError(t, store.PutDocument(ctx, doc))

	got, err := store.GetDocument(ctx, shared.NewDocumentRef("class", "c1"))
	assert.NoError(t, err)
	assert.Equal(t, "class::c1", got.Ref.String())
	assert.JSONEq(t, `{"type":"class","classTitle":"Algebra"}`, string(got.Body))

	// Zero input timestamps are filled on write.
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
	assert.True(t, got.SyncedAt.IsZero())
}

func TestStore_PutDocument_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.PutDocument(ctx, &Document{
		Ref:  shared.DocumentRef{Type: "class"},
		Body: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, shared.ErrDocumentIDMissing)

	err = store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("class", "c1"),
		Body: json.RawMessage(`not json`),
	})
	assert.Error(t, err)
}

func TestStore_GetDocument_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetDocument(ctx, shared.NewDocumentRef("class", "ghost"))
	assert.ErrorIs(t, err, shared.ErrDocumentNotFound)
}

func TestStore_PutDocument_UpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	created := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	ref := shared.NewDocumentRef("class", "c1")

	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:       ref,
		Body:      json.RawMessage(`{"classTitle":"v1"}`),
		CreatedAt: created,
		UpdatedAt: created,
	}))

	later := created.Add(time.Hour)
	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:       ref,
		Body:      json.RawMessage(`{"classTitle":"v2"}`),
		CreatedAt: later,
		UpdatedAt: later,
	}))

	got, err := store.GetDocument(ctx, ref)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"classTitle":"v2"}`, string(got.Body))
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(later))

	count, err := store.CountByType(ctx, "class")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_DeleteDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ref := shared.NewDocumentRef("class", "c1")
	assert.NoError(t, store.PutDocument(ctx, &Document{Ref: ref, Body: json.RawMessage(`{}`)}))

	assert.NoError(t, store.DeleteDocument(ctx, ref))

	_, err := store.GetDocument(ctx, ref)
	assert.ErrorIs(t, err, shared.ErrDocumentNotFound)

	// Deleting a missing document reports absence, not success.
	assert.ErrorIs(t, store.DeleteDocument(ctx, ref), shared.ErrDocumentNotFound)
}

func TestStore_QueryByType_OrdersByLatestUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		assert.NoError(t, store.PutDocument(ctx, &Document{
			Ref:       shared.NewDocumentRef("class", id),
			Body:      json.RawMessage(`{}`),
			CreatedAt: ts,
			UpdatedAt: ts,
		}))
	}
	// Documents of another type stay out of the result.
	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("sync", "checkpoint"),
		Body: json.RawMessage(`{}`),
	}))

	docs, err := store.QueryByType(ctx, "class")
	assert.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Equal(t, "class::new", docs[0].Ref.String())
	assert.Equal(t, "class::mid", docs[1].Ref.String())
	assert.Equal(t, "class::old", docs[2].Ref.String())
}

func TestStore_QueryByField(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("class", "c1"),
		Body: json.RawMessage(`{"educatorId":"e1"}`),
	}))
	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("class", "c2"),
		Body: json.RawMessage(`{"educatorId":"e2"}`),
	}))

	docs, err := store.QueryByField(ctx, "class", "$.educatorId", "e1")
	assert.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, "class::c1", docs[0].Ref.String())

	docs, err = store.QueryByField(ctx, "class", "$.educatorId", "nobody")
	assert.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_QueryByMembership(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("class", "c1"),
		Body: json.RawMessage(`{"studentIds":["s1","s2"]}`),
	}))
	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("class", "c2"),
		Body: json.RawMessage(`{"studentIds":[]}`),
	}))

	docs, err := store.QueryByMembership(ctx, "class", "$.studentIds", "s2")
	assert.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, "class::c1", docs[0].Ref.String())

	docs, err = store.QueryByMembership(ctx, "class", "$.studentIds", "s9")
	assert.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_WithTx(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, doc_type, body, created_at, updated_at, synced_at)
			VALUES ('class::tx1', 'class', '{}', 1, 1, 0)`)
		return err
	})
	assert.NoError(t, err)

	count, err := store.CountByType(ctx, "class")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	// A failing function rolls the whole transaction back.
	err = store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, doc_type, body, created_at, updated_at, synced_at)
			VALUES ('class::tx2', 'class', '{}', 1, 1, 0)`); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	count, err = store.CountByType(ctx, "class")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_Health(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef("class", "c1"),
		Body: json.RawMessage(`{}`),
	}))

	health, err := store.Health(ctx)
	assert.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Empty(t, health.Error)
	assert.Equal(t, 1, health.TotalDocuments)
	assert.Equal(t, 1, health.DocumentCounts["class"])
}

func TestStore_Compact(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		assert.NoError(t, store.PutDocument(ctx, &Document{
			Ref:  shared.NewDocumentRef("class", id),
			Body: json.RawMessage(`{}`),
		}))
	}
	assert.NoError(t, store.DeleteDocument(ctx, shared.NewDocumentRef("class", "b")))

	result, err := store.Compact(ctx)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))

	// The store stays usable after compaction.
	count, err := store.CountByType(ctx, "class")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMigrator_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// OpenInMemory already migrated; a second run applies nothing.
	assert.NoError(t, NewMigrator(store).Migrate(ctx))

	applied, err := NewMigrator(store).GetAppliedMigrations(ctx)
	assert.NoError(t, err)
	assert.Len(t, applied, len(GetMigrations()))
}

func TestMigrator_Rollback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	migrator := NewMigrator(store)
	assert.NoError(t, migrator.Rollback(ctx))

	applied, err := migrator.GetAppliedMigrations(ctx)
	assert.NoError(t, err)
	assert.Len(t, applied, len(GetMigrations())-1)
}
