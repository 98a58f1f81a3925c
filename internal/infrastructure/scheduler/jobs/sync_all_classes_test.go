package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
	"github.com/klypt-hub/klypt-class-hub/internal/domain/shared"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/external/gateway"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/messaging"
	"github.com/klypt-hub/klypt-class-hub/internal/infrastructure/persistence/docstore"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fixtures
// ─────────────────────────────────────────────────────────────────────────────

// syncFixture wires a job against a real in-memory store and a stubbed
// gateway, with a synchronous event bus recording everything published.
type syncFixture struct {
	store     *docstore.Store
	classRepo *docstore.ClassRepository
	syncRepo  *docstore.SyncStateRepository
	bus       *messaging.InMemoryEventBus
	events    *eventRecorder
	client    *stubGateway
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	store, err := docstore.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	t.Cleanup(func() { _ = bus.Close() })

	recorder := &eventRecorder{}
	require.NoError(t, bus.SubscribeAll(recorder.record))

	return &syncFixture{
		store:     store,
		classRepo: docstore.NewClassRepository(store),
		syncRepo:  docstore.NewSyncStateRepository(store),
		bus:       bus,
		events:    recorder,
		client:    newStubGateway(),
	}
}

func (f *syncFixture) newJob(config SyncAllClassesConfig) *SyncAllClassesJob {
	return NewSyncAllClassesJob(f.classRepo, f.syncRepo, f.client, f.bus, nil, config)
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

// eventRecorder collects events published during a job run.
type eventRecorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *eventRecorder) record(event shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) count(eventType shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// stubGateway is an in-memory GatewayClient. Pages are served in order, and
// pushes can be failed per class id, once (conflict) or persistently.
type stubGateway struct {
	mu sync.Mutex

	pages     []*gateway.ChangesPage
	pageIndex int

	remote       map[string]*classroom.ClassRecord
	pushErr      map[string]error
	conflictOnce map[string]bool
	pushed       []*classroom.ClassRecord
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		remote:       make(map[string]*classroom.ClassRecord),
		pushErr:      make(map[string]error),
		conflictOnce: make(map[string]bool),
	}
}

func (s *stubGateway) GetChanges(ctx context.Context, cursor string, limit int) (*gateway.ChangesPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pageIndex >= len(s.pages) {
		return &gateway.ChangesPage{Changes: []gateway.ClassChange{}, NextCursor: cursor}, nil
	}
	page := s.pages[s.pageIndex]
	s.pageIndex++
	return page, nil
}

func (s *stubGateway) PushClass(ctx context.Context, rec *classroom.ClassRecord) (*gateway.PushResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pushErr[rec.ID]; err != nil {
		return nil, err
	}
	if s.conflictOnce[rec.ID] {
		delete(s.conflictOnce, rec.ID)
		return nil, gateway.ErrConflict
	}

	s.pushed = append(s.pushed, rec.Clone())
	return &gateway.PushResult{ClassID: rec.ID, Accepted: true, Seq: "100"}, nil
}

func (s *stubGateway) GetClass(ctx context.Context, classID string) (*classroom.ClassRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.remote[classID]
	if !ok {
		return nil, classroom.ErrClassNotFound
	}
	return rec.Clone(), nil
}

func (s *stubGateway) pushedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pushed)
}

// ─────────────────────────────────────────────────────────────────────────────
// Pull phase
// ─────────────────────────────────────────────────────────────────────────────

func TestSyncAllClassesJob_PullAppliesRemoteChanges(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	// A local class the feed tombstones away.
	gone := mustNewClass(t, "gone", "AAAA2222", "e1")
	require.NoError(t, f.classRepo.Save(ctx, gone))

	remote := mustNewClass(t, "c-remote", "BBBB3333", "e2", "s1")
	f.client.pages = []*gateway.ChangesPage{{
		Changes: []gateway.ClassChange{
			{Seq: "7", ClassID: "c-remote", Record: remote},
			{Seq: "8", ClassID: "gone", Deleted: true},
		},
		NextCursor: "8",
	}}

	job := f.newJob(SyncAllClassesConfig{PushEnabled: false})
	require.NoError(t, job.Run(ctx))

	got, err := f.classRepo.Get(ctx, "c-remote")
	require.NoError(t, err)
	assert.Equal(t, "Class c-remote", got.Title)
	assert.Equal(t, []string{"s1"}, got.StudentIDs.Strings())
	assert.False(t, got.LastSyncedAt.IsZero(), "pulled record is stamped as synced")
	assert.False(t, got.IsDirty())

	_, err = f.classRepo.Get(ctx, "gone")
	assert.ErrorIs(t, err, classroom.ErrClassNotFound)

	cursor, err := f.syncRepo.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "8", cursor)

	stats := job.LastSyncStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.Pulled)
	assert.Equal(t, 1, stats.Tombstones)
	assert.Equal(t, 0, stats.PullFailed)

	assert.Equal(t, 1, f.events.count(shared.EventClassPulled))
	assert.Equal(t, 1, f.events.count(shared.EventCheckpointMoved))
	assert.Equal(t, 1, f.events.count(shared.EventSyncCompleted))
}

func TestSyncAllClassesJob_PullKeepsNewerLocal(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	local := mustNewClass(t, "c1", "ABCD1234", "e1")
	local.Title = "Local Edit"
	require.NoError(t, f.classRepo.Save(ctx, local))

	stale := local.Clone()
	stale.Title = "Stale Remote"
	stale.UpdatedAt = local.UpdatedAt.Add(-time.Hour)
	f.client.pages = []*gateway.ChangesPage{{
		Changes:    []gateway.ClassChange{{Seq: "3", ClassID: "c1", Record: stale}},
		NextCursor: "3",
	}}

	job := f.newJob(SyncAllClassesConfig{PushEnabled: false})
	require.NoError(t, job.Run(ctx))

	got, err := f.classRepo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Local Edit", got.Title)
	assert.True(t, got.IsDirty(), "local edit still waits for the push phase")

	stats := job.LastSyncStats()
	assert.Equal(t, 0, stats.Pulled)
	assert.Equal(t, 1, stats.PullSkipped)
	assert.Equal(t, 0, f.events.count(shared.EventClassPulled))
}

func TestSyncAllClassesJob_PullPaginates(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	a := mustNewClass(t, "a", "AAAA1111", "e1")
	b := mustNewClass(t, "b", "BBBB1111", "e1")
	f.client.pages = []*gateway.ChangesPage{
		{Changes: []gateway.ClassChange{{Seq: "1", ClassID: "a", Record: a}}, NextCursor: "1", More: true},
		{Changes: []gateway.ClassChange{{Seq: "2", ClassID: "b", Record: b}}, NextCursor: "2"},
	}

	job := f.newJob(SyncAllClassesConfig{PushEnabled: false})
	require.NoError(t, job.Run(ctx))

	cursor, err := f.syncRepo.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor)
	assert.Equal(t, 2, job.LastSyncStats().Pulled)
	assert.Equal(t, 2, f.events.count(shared.EventCheckpointMoved))
}

func TestSyncAllClassesJob_PullRejectsStuckFeed(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	f.client.pages = []*gateway.ChangesPage{{More: true}}

	job := f.newJob(SyncAllClassesConfig{PushEnabled: false})
	err := job.Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "without advancing the cursor")
	assert.Equal(t, 1, f.events.count(shared.EventSyncFailed))
}

func TestSyncAllClassesJob_PullFailureIsJournaled(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	// A non-tombstone entry without a document body cannot be applied.
	f.client.pages = []*gateway.ChangesPage{{
		Changes:    []gateway.ClassChange{{Seq: "5", ClassID: "broken"}},
		NextCursor: "5",
	}}

	job := f.newJob(SyncAllClassesConfig{PushEnabled: false})
	require.NoError(t, job.Run(ctx), "one bad entry does not fail the cycle")

	assert.Equal(t, 1, job.LastSyncStats().PullFailed)

	cursor, err := f.syncRepo.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5", cursor, "bad entries must not wedge the feed")

	journal, err := f.syncRepo.RecentSyncErrors(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, journal, 1)
	assert.Equal(t, "broken", journal[0].ClassID)
	assert.Equal(t, "pull", journal[0].Stage)
}

// ─────────────────────────────────────────────────────────────────────────────
// Push phase
// ─────────────────────────────────────────────────────────────────────────────

func TestSyncAllClassesJob_PushDirtyRecords(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	c1 := mustNewClass(t, "c1", "ABCD1234", "e1", "s1")
	c2 := mustNewClass(t, "c2", "EFGH5678", "e1")
	require.NoError(t, f.classRepo.Save(ctx, c1))
	require.NoError(t, f.classRepo.Save(ctx, c2))

	job := f.newJob(SyncAllClassesConfig{PushEnabled: true, PushConcurrency: 2})
	require.NoError(t, job.Run(ctx))

	stats := job.LastSyncStats()
	assert.Equal(t, 2, stats.DirtyFound)
	assert.Equal(t, 2, stats.Pushed)
	assert.Equal(t, 0, stats.PushFailed)
	assert.Equal(t, 2, f.client.pushedCount())

	remaining, err := f.syncRepo.ListDirty(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining, "pushed records are marked synced")

	last, err := f.syncRepo.GetLastSyncTime(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())

	assert.Equal(t, 2, f.events.count(shared.EventClassSynced))
	assert.Equal(t, 1, f.events.count(shared.EventSyncCompleted))
}

func TestSyncAllClassesJob_ConflictRemoteWins(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	base := time.Now().UTC().Add(-2 * time.Hour)

	local := mustNewClass(t, "c1", "ABCD1234", "e1")
	local.Title = "Local Title"
	local.CreatedAt = base
	local.UpdatedAt = base
	require.NoError(t, f.classRepo.Save(ctx, local))

	remote := local.Clone()
	remote.Title = "Remote Title"
	remote.UpdatedAt = base.Add(time.Hour)
	f.client.remote["c1"] = remote
	f.client.conflictOnce["c1"] = true

	job := f.newJob(SyncAllClassesConfig{PushEnabled: true})
	require.NoError(t, job.Run(ctx))

	got, err := f.classRepo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Remote Title", got.Title)
	assert.False(t, got.IsDirty())

	stats := job.LastSyncStats()
	assert.Equal(t, 1, stats.Pushed)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 0, stats.PushFailed)

	assert.Equal(t, 0, f.client.pushedCount(), "remote winner is adopted, not re-pushed")
	assert.Equal(t, 1, f.events.count(shared.EventClassPulled))
}

func TestSyncAllClassesJob_ConflictLocalWins(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	base := time.Now().UTC().Add(-2 * time.Hour)

	local := mustNewClass(t, "c1", "ABCD1234", "e1")
	local.Title = "Local Title"
	local.CreatedAt = base
	local.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, f.classRepo.Save(ctx, local))

	remote := local.Clone()
	remote.Title = "Remote Title"
	remote.UpdatedAt = base
	f.client.remote["c1"] = remote
	f.client.conflictOnce["c1"] = true

	job := f.newJob(SyncAllClassesConfig{PushEnabled: true})
	require.NoError(t, job.Run(ctx))

	got, err := f.classRepo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Local Title", got.Title)
	assert.False(t, got.IsDirty())

	stats := job.LastSyncStats()
	assert.Equal(t, 1, stats.Pushed)
	assert.Equal(t, 1, stats.Conflicts)

	assert.Equal(t, 1, f.client.pushedCount(), "local winner is pushed once more")
	assert.Equal(t, 1, f.events.count(shared.EventClassSynced))
}

func TestSyncAllClassesJob_PushFailureRate(t *testing.T) {
	ctx := context.Background()
	f := newSyncFixture(t)

	c1 := mustNewClass(t, "c1", "ABCD1234", "e1")
	c2 := mustNewClass(t, "c2", "EFGH5678", "e1")
	require.NoError(t, f.classRepo.Save(ctx, c1))
	require.NoError(t, f.classRepo.Save(ctx, c2))

	cause := errors.New("gateway unreachable")
	f.client.pushErr["c1"] = cause
	f.client.pushErr["c2"] = cause

	job := f.newJob(SyncAllClassesConfig{PushEnabled: true})
	err := job.Run(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "more than half")

	stats := job.LastSyncStats()
	assert.Equal(t, 2, stats.DirtyFound)
	assert.Equal(t, 0, stats.Pushed)
	assert.Equal(t, 2, stats.PushFailed)
	assert.Len(t, stats.Errors, 2)

	journal, err := f.syncRepo.RecentSyncErrors(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, journal, 2)
	assert.Equal(t, "push", journal[0].Stage)
}
