package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
)

// ─────────────────────────────────────────────────────────────────────────────
// Stub gateway
// ─────────────────────────────────────────────────────────────────────────────

// stubSyncGateway is an in-memory SyncGateway. A class id listed in
// conflictWith fails its first push with a conflict and surfaces the given
// record as the remote copy afterwards.
type stubSyncGateway struct {
	mu sync.Mutex

	remote       map[string]*classroom.ClassRecord
	pushErr      map[string]error
	conflictWith map[string]*classroom.ClassRecord

	getCalls int
	pushed   []*classroom.ClassRecord
}

func newStubSyncGateway() *stubSyncGateway {
	return &stubSyncGateway{
		remote:       make(map[string]*classroom.ClassRecord),
		pushErr:      make(map[string]error),
		conflictWith: make(map[string]*classroom.ClassRecord),
	}
}

func (s *stubSyncGateway) GetClass(ctx context.Context, classID string) (*classroom.ClassRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	rec, ok := s.remote[classID]
	if !ok {
		return nil, classroom.ErrClassNotFound
	}
	return rec.Clone(), nil
}

func (s *stubSyncGateway) PushClass(ctx context.Context, rec *classroom.ClassRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.pushErr[rec.ID]; ok {
		return err
	}
	if winner, ok := s.conflictWith[rec.ID]; ok {
		delete(s.conflictWith, rec.ID)
		s.remote[rec.ID] = winner
		return fmt.Errorf("push %s: %w", rec.ID, shared.ErrConcurrentModification)
	}

	s.pushed = append(s.pushed, rec.Clone())
	s.remote[rec.ID] = rec.Clone()
	return nil
}

func (s *stubSyncGateway) pushedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushed)
}

func (s *stubSyncGateway) getCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// newClassRecord builds a record without saving it anywhere.
func newClassRecord(t *testing.T, id string, code classroom.ClassCode, educator classroom.EducatorID, students ...classroom.StudentID) *classroom.ClassRecord {
	t.Helper()

	rec, err := classroom.NewClassRecord(classroom.NewClassRecordParams{
		ID:         id,
		Code:       code,
		Title:      "Class " + id,
		EducatorID: educator,
		StudentIDs: classroom.Roster(students),
	})
	require.NoError(t, err)
	return rec
}

func newSyncClassHandler(f *commandFixture, gw *stubSyncGateway) *SyncClassHandler {
	return NewSyncClassHandler(f.classRepo, f.syncRepo, gw, nil, f.bus, SyncClassHandlerConfig{})
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestSyncClassHandler_PushesDirtyLocal(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	// A freshly created class has never been synced.
	f.seedClass(t, "c1", "ABCD2345", "teacher-1", "s1")

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionPush, result.Direction)
	assert.False(t, result.Skipped)
	assert.False(t, result.SyncedAt.IsZero())
	assert.Equal(t, 1, gw.pushedCount())

	rec, err := f.classRepo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, rec.IsDirty(), "a pushed class should be marked synced")

	assert.Equal(t, 1, f.events.count(shared.EventClassSynced))
}

func TestSyncClassHandler_PullsUnknownClass(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	gw.remote["c9"] = newClassRecord(t, "c9", "WXYZ7777", "teacher-9", "s1")

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c9"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionPull, result.Direction)
	assert.True(t, result.WasCreated)

	rec, err := f.classRepo.Get(context.Background(), "c9")
	require.NoError(t, err)
	assert.Equal(t, "Class c9", rec.Title)
	assert.False(t, rec.IsDirty())

	assert.Equal(t, 1, f.events.count(shared.EventClassPulled))
}

func TestSyncClassHandler_PullsNewerRemote(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	seeded := f.seedClass(t, "c1", "ABCD2345", "teacher-1")
	remote := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	remote.Title = "Remote Title"
	remote.UpdatedAt = seeded.UpdatedAt.Add(time.Hour)
	gw.remote["c1"] = remote

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionPull, result.Direction)
	assert.False(t, result.WasCreated)

	rec, err := f.classRepo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Remote Title", rec.Title)
}

func TestSyncClassHandler_KeepsNewerLocal(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	seeded := f.seedClass(t, "c1", "ABCD2345", "teacher-1")
	stale := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	stale.Title = "Stale Title"
	stale.UpdatedAt = seeded.UpdatedAt.Add(-time.Hour)
	gw.remote["c1"] = stale

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionPush, result.Direction)
	assert.Equal(t, 1, gw.pushedCount())

	rec, err := f.classRepo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Class c1", rec.Title, "local content must survive the push")
}

func TestSyncClassHandler_SkipsFreshCleanClass(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	rec := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	rec.SyncedWith(time.Now().UTC())
	require.NoError(t, f.classRepo.Save(context.Background(), rec))

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, SyncDirectionNone, result.Direction)
	assert.False(t, result.SyncedAt.IsZero())
	assert.Equal(t, 0, gw.getCallCount(), "a skipped sync must not hit the gateway")
}

func TestSyncClassHandler_ForceBypassesInterval(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	rec := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	rec.SyncedWith(time.Now().UTC())
	require.NoError(t, f.classRepo.Save(context.Background(), rec))

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1", Force: true})
	require.NoError(t, err)

	assert.False(t, result.Skipped)
	assert.Equal(t, SyncDirectionPush, result.Direction)
	assert.Equal(t, 1, gw.pushedCount())
}

func TestSyncClassHandler_ConflictRemoteWins(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	base := time.Now().UTC().Add(-2 * time.Hour)
	local := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	local.Title = "Local Title"
	local.CreatedAt = base
	local.UpdatedAt = base
	require.NoError(t, f.classRepo.Save(context.Background(), local))

	winner := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	winner.Title = "Remote Title"
	winner.CreatedAt = base
	winner.UpdatedAt = base.Add(time.Hour)
	gw.conflictWith["c1"] = winner

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionPull, result.Direction)
	assert.Equal(t, 0, gw.pushedCount())

	rec, err := f.classRepo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Remote Title", rec.Title)
	assert.False(t, rec.IsDirty())

	assert.Equal(t, 1, f.events.count(shared.EventClassPulled))
}

func TestSyncClassHandler_ConflictLocalWins(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	base := time.Now().UTC().Add(-2 * time.Hour)
	local := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	local.Title = "Local Title"
	local.CreatedAt = base
	local.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, f.classRepo.Save(context.Background(), local))

	loser := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	loser.Title = "Remote Title"
	loser.CreatedAt = base
	loser.UpdatedAt = base
	gw.conflictWith["c1"] = loser

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionPush, result.Direction)
	assert.Equal(t, 1, gw.pushedCount(), "the local winner is pushed once more")

	rec, err := f.classRepo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Local Title", rec.Title)
	assert.False(t, rec.IsDirty())

	assert.Equal(t, 1, f.events.count(shared.EventClassSynced))
}

func TestSyncClassHandler_MissingEverywhere(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	_, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "ghost"})
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)
}

func TestSyncClassHandler_EqualVersionsSettle(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	// Millisecond-aligned so the stored copy compares equal after loading.
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	local := newClassRecord(t, "c1", "ABCD2345", "teacher-1")
	local.CreatedAt = base
	local.UpdatedAt = base
	require.NoError(t, f.classRepo.Save(context.Background(), local))
	gw.remote["c1"] = local.Clone()

	result, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, SyncDirectionNone, result.Direction)
	assert.False(t, result.Skipped)
	assert.False(t, result.SyncedAt.IsZero())
	assert.Equal(t, 0, gw.pushedCount())

	rec, err := f.classRepo.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, rec.IsDirty(), "matching versions settle without a transfer")
}

func TestSyncClassHandler_PushFailureJournaled(t *testing.T) {
	f := newCommandFixture(t)
	gw := newStubSyncGateway()
	handler := newSyncClassHandler(f, gw)

	f.seedClass(t, "c1", "ABCD2345", "teacher-1")
	gw.pushErr["c1"] = errors.New("gateway unreachable")

	_, err := handler.Handle(context.Background(), SyncClassCommand{ClassID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to push class")

	serrs, err := f.syncRepo.RecentSyncErrors(context.Background(), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, serrs, 1)
	assert.Equal(t, "c1", serrs[0].ClassID)
	assert.Equal(t, "push", serrs[0].Stage)
}
