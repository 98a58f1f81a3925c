package docstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

func newTestClassRepo(t *testing.T) (*ClassRepository, *Store) {
	t.Helper()
	store := newTestStore(t)
	return NewClassRepository(store), store
}

func mustNewClass(t *testing.T, id string, code classroom.ClassCode, educator classroom.EducatorID, students ...classroom.StudentID) *classroom.ClassRecord {
	t.Helper()

	rec, err := classroom.NewClassRecord(classroom.NewClassRecordParams{
		ID:         id,
		Code:       code,
		Title:      "Class " + id,
		EducatorID: educator,
		StudentIDs: classroom.Roster(students),
	})
	if err != nil {
		t.Fatalf("failed to build class record: %v", err)
	}
	return rec
}

func TestClassRepository_SaveAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	rec := mustNewClass(t, "c1", "ABCD1234", "e1", "s1")
	rec.Title = "Intro to Go"
	assert.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, "c1")
	assert.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, classroom.ClassCode("ABCD1234"), got.Code)
	assert.Equal(t, "Intro to Go", got.Title)
	assert.Equal(t, classroom.EducatorID("e1"), got.EducatorID)
	assert.Equal(t, []string{"s1"}, got.StudentIDs.Strings())
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))
	assert.True(t, got.LastSyncedAt.IsZero())
}

func TestClassRepository_Get_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	_, err := repo.Get(ctx, "ghost")
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)
}

func TestClassRepository_Save_FullyReplaces(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	rec := mustNewClass(t, "c1", "ABCD1234", "e1", "s1", "s2")
	assert.NoError(t, repo.Save(ctx, rec))

	rec.Title = "Renamed"
	rec.StudentIDs = rec.StudentIDs.Remove("s2")
	rec.UpdatedAt = rec.UpdatedAt.Add(time.Minute)
	assert.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, "c1")
	assert.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, []string{"s1"}, got.StudentIDs.Strings())

	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClassRepository_Save_RejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	assert.ErrorIs(t, repo.Save(ctx, nil), classroom.ErrInvalidClassID)
	assert.ErrorIs(t, repo.Save(ctx, &classroom.ClassRecord{}), classroom.ErrInvalidClassID)
}

func TestClassRepository_Save_DuplicateCode(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "ABCD1234", "e1")))

	err := repo.Save(ctx, mustNewClass(t, "c2", "ABCD1234", "e2"))
	assert.ErrorIs(t, err, classroom.ErrCodeTaken)

	// Re-saving the same class under its own code is not a collision.
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "ABCD1234", "e1")))
}

func TestClassRepository_FindByCode(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "ABCD1234", "e1")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c2", "WXYZ5678", "e1")))

	got, err := repo.FindByCode(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Equal(t, "c1", got.ID)

	// Exact match only: a near-miss code finds nothing.
	_, err = repo.FindByCode(ctx, "ABCD1235")
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)
}

func TestClassRepository_ListAll_OrdersByLatestUpdate(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	codes := []classroom.ClassCode{"AAAA1111", "BBBB2222", "CCCC3333"}
	for i, id := range []string{"old", "mid", "new"} {
		rec := mustNewClass(t, id, codes[i], "e1")
		rec.CreatedAt = base
		rec.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		assert.NoError(t, repo.Save(ctx, rec))
	}

	all, err := repo.ListAll(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Equal(t, "mid", all[1].ID)
	assert.Equal(t, "old", all[2].ID)
}

func TestClassRepository_CountMatchesListAll(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, count)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "AAAA1111", "e1")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c2", "BBBB2222", "e2")))

	all, err := repo.ListAll(ctx)
	assert.NoError(t, err)
	count, err = repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, len(all), count)
}

func TestClassRepository_ListByEducator(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "AAAA1111", "e1")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c2", "BBBB2222", "e1")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c3", "CCCC3333", "e2")))

	mine, err := repo.ListByEducator(ctx, "e1")
	assert.NoError(t, err)
	assert.Len(t, mine, 2)
	for _, rec := range mine {
		assert.Equal(t, classroom.EducatorID("e1"), rec.EducatorID)
	}

	none, err := repo.ListByEducator(ctx, "nobody")
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestClassRepository_ListByStudent_MatchesRosterMembership(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "AAAA1111", "e1", "s1", "s2")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c2", "BBBB2222", "e1", "s2")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c3", "CCCC3333", "e2")))

	enrolled, err := repo.ListByStudent(ctx, "s2")
	assert.NoError(t, err)
	assert.Len(t, enrolled, 2)
	for _, rec := range enrolled {
		assert.True(t, rec.HasStudent("s2"))
	}

	enrolled, err = repo.ListByStudent(ctx, "s1")
	assert.NoError(t, err)
	assert.Len(t, enrolled, 1)
	assert.Equal(t, "c1", enrolled[0].ID)

	// The membership predicate matches students, not educators.
	enrolled, err = repo.ListByStudent(ctx, "e1")
	assert.NoError(t, err)
	assert.Empty(t, enrolled)
}

func TestClassRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "AAAA1111", "e1")))
	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c2", "BBBB2222", "e1")))

	assert.NoError(t, repo.Delete(ctx, "c1"))

	_, err := repo.Get(ctx, "c1")
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)

	count, err := repo.Count(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	// A second delete of the same id reports absence.
	assert.ErrorIs(t, repo.Delete(ctx, "c1"), classroom.ErrClassNotFound)
}

func TestClassRepository_ExistsAndCodeInUse(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	exists, err := repo.Exists(ctx, "c1")
	assert.NoError(t, err)
	assert.False(t, exists)

	inUse, err := repo.CodeInUse(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.False(t, inUse)

	assert.NoError(t, repo.Save(ctx, mustNewClass(t, "c1", "ABCD1234", "e1")))

	exists, err = repo.Exists(ctx, "c1")
	assert.NoError(t, err)
	assert.True(t, exists)

	inUse, err = repo.CodeInUse(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.True(t, inUse)
}

func TestClassRepository_MissingFieldsReadAsDefaults(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestClassRepo(t)

	// A legacy document carrying only its type discriminator.
	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef(DocTypeClass, "legacy1"),
		Body: json.RawMessage(`{"type":"class"}`),
	}))

	got, err := repo.Get(ctx, "legacy1")
	assert.NoError(t, err)
	assert.Equal(t, "legacy1", got.ID)
	assert.Equal(t, "", got.Code.String())
	assert.Equal(t, "", got.Title)
	assert.Equal(t, "", got.EducatorID.String())
	assert.NotNil(t, got.StudentIDs.Strings())
	assert.Empty(t, got.StudentIDs.Strings())
	assert.True(t, got.LastSyncedAt.IsZero())

	// Bookkeeping columns back-fill the timestamps the body lacks.
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestClassRepository_CorruptBodySurfacesStoreError(t *testing.T) {
	ctx := context.Background()
	repo, store := newTestClassRepo(t)

	// Valid JSON, wrong shape: the roster is a scalar.
	assert.NoError(t, store.PutDocument(ctx, &Document{
		Ref:  shared.NewDocumentRef(DocTypeClass, "bad1"),
		Body: json.RawMessage(`{"type":"class","studentIds":"oops"}`),
	}))

	_, err := repo.Get(ctx, "bad1")
	assert.ErrorIs(t, err, shared.ErrStoreCorrupt)
}

func TestClassRepository_TimestampsSurviveRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestClassRepo(t)

	rec := mustNewClass(t, "c1", "ABCD1234", "e1", "s1")
	rec.CreatedAt = time.Date(2026, 4, 2, 8, 30, 0, 123456789, time.UTC)
	rec.UpdatedAt = time.Date(2026, 4, 3, 9, 15, 0, 0, time.UTC)
	rec.LastSyncedAt = time.Date(2026, 4, 3, 9, 30, 0, 0, time.UTC)
	assert.NoError(t, repo.Save(ctx, rec))

	got, err := repo.Get(ctx, "c1")
	assert.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
	assert.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))
	assert.True(t, got.LastSyncedAt.Equal(rec.LastSyncedAt))
	assert.False(t, got.IsDirty())
}
