package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingJob is a minimal Job that counts its runs.
type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxHistorySize: 10, EnableMetrics: true})

	job := &countingJob{name: "touch"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)

	result, err := s.RunNow(context.Background(), "touch")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, true, result.Metadata["manual"])
	assert.Equal(t, int32(1), job.runs.Load())

	_, err = s.RunNow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrJobNotFound)

	history := s.GetHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, "touch", history[0].JobName)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalExecutions)
	assert.Equal(t, int64(1), snap.TotalSuccesses)
}

func TestScheduler_RunNowPropagatesJobError(t *testing.T) {
	s := NewScheduler(SchedulerConfig{EnableMetrics: true})

	job := &countingJob{name: "boom", err: errors.New("job exploded")}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "boom")
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(1), snap.TotalFailures)
}

func TestScheduler_HistoryCapped(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxHistorySize: 2})

	job := &countingJob{name: "touch"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))

	for i := 0; i < 5; i++ {
		_, err := s.RunNow(context.Background(), "touch")
		require.NoError(t, err)
	}

	assert.Len(t, s.GetHistory(0), 2)
}

func TestScheduler_EnableDisable(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})

	job := &countingJob{name: "touch"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.DisableJob("touch"))

	info, err := s.GetJobInfo("touch")
	require.NoError(t, err)
	assert.False(t, info.Enabled)

	require.NoError(t, s.EnableJob("touch"))
	info, err = s.GetJobInfo("touch")
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.False(t, info.NextRun.IsZero())

	assert.ErrorIs(t, s.DisableJob("ghost"), ErrJobNotFound)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RejectsNilRegistrations(t *testing.T) {
	s := NewScheduler(SchedulerConfig{})

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&countingJob{name: "touch"}, nil), ErrNilSchedule)
}
