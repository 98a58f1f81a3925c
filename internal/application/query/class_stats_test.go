package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klypt-hub/klypt-class-hub/internal/domain/classroom"
)

func TestClassStatsHandler_BuildsSummary(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	// Свежий, не синхронизированный класс с двумя учениками.
	f.seedClass(t, "c1", "AAAA2345", "teacher-1", "s1", "s2")

	// Пустой класс, синхронизированный только что.
	clean := f.seedClass(t, "c2", "BBBB2345", "teacher-1")
	clean.SyncedWith(time.Now().UTC())
	require.NoError(t, f.classRepo.Save(ctx, clean))

	// Пустой класс, не синхронизировавшийся месяц.
	old := time.Now().UTC().Add(-30 * 24 * time.Hour)
	stale := f.seedClass(t, "c3", "CCCC2345", "teacher-2")
	stale.CreatedAt = old
	stale.UpdatedAt = old
	stale.LastSyncedAt = old
	require.NoError(t, f.classRepo.Save(ctx, stale))

	lastSync := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.syncRepo.SetLastSyncTime(ctx, lastSync))
	require.NoError(t, f.syncRepo.SaveSyncError(ctx, classroom.SyncError{
		ClassID:    "c1",
		Stage:      "push",
		Message:    "gateway unreachable",
		OccurredAt: time.Now().UTC(),
	}))

	handler := NewClassStatsHandler(f.classRepo, f.syncRepo)
	result, err := handler.Handle(ctx, ClassStatsQuery{})
	require.NoError(t, err)

	stats := result.Stats
	assert.Equal(t, 3, stats.TotalClasses)
	assert.Equal(t, 2, stats.TotalEnrollments)
	assert.Equal(t, 2, stats.EmptyClasses)
	assert.InDelta(t, 2.0/3.0, stats.AverageRosterSize, 0.001)

	assert.Equal(t, 1, stats.PendingSync, "only the fresh class has unsynced changes")
	assert.Equal(t, 1, stats.NeverSynced)
	assert.Equal(t, 1, stats.StaleClasses)
	assert.Equal(t, 1, stats.RecentErrors)

	require.NotNil(t, stats.LastSyncAt)
	assert.WithinDuration(t, lastSync, *stats.LastSyncAt, time.Second)
}

func TestClassStatsHandler_EmptyStore(t *testing.T) {
	f := newQueryFixture(t)
	handler := NewClassStatsHandler(f.classRepo, f.syncRepo)

	result, err := handler.Handle(context.Background(), ClassStatsQuery{})
	require.NoError(t, err)

	stats := result.Stats
	assert.Equal(t, 0, stats.TotalClasses)
	assert.Equal(t, 0, stats.TotalEnrollments)
	assert.Equal(t, 0.0, stats.AverageRosterSize)
	assert.Nil(t, stats.LastSyncAt)
	assert.False(t, result.GeneratedAt.IsZero())
}

func TestClassStatsHandler_RejectsNegativeThreshold(t *testing.T) {
	f := newQueryFixture(t)
	handler := NewClassStatsHandler(f.classRepo, f.syncRepo)

	_, err := handler.Handle(context.Background(), ClassStatsQuery{StaleThreshold: -time.Hour})
	assert.Error(t, err)
}
