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

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return j.err
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, "@every 10ms", infos[0].Schedule)
	assert.GreaterOrEqual(t, infos[0].RunCount, int64(2))
}

func TestScheduler_Registration(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &countingJob{name: "a"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.SetEnabled("missing", true), ErrJobNotFound)
	require.NoError(t, s.SetEnabled("a", false))
	assert.False(t, s.ListJobs()[0].Enabled)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	ok := &countingJob{name: "ok"}
	bad := &countingJob{name: "bad", err: errors.New("nope")}
	crash := &countingJob{name: "crash", panic: true}
	for _, j := range []*countingJob{ok, bad, crash} {
		require.NoError(t, s.Register(j, NewIntervalSchedule(time.Hour)))
	}
	ctx := context.Background()

	res, err := s.RunNow(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(ctx, "bad")
	assert.EqualError(t, err, "nope")

	_, err = s.RunNow(ctx, "crash")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	assert.Len(t, s.History(0), 3)
	assert.Len(t, s.History(1), 1)

	sum := s.Summary()
	assert.Equal(t, int64(3), sum.Executions)
	assert.Equal(t, int64(2), sum.Failures)
	assert.Equal(t, int64(1), sum.FailuresByJob["bad"])
	assert.InDelta(t, 1.0/3, sum.SuccessRate(), 1e-9)
}

func TestScheduler_RegisterWhileRunning(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	job := &countingJob{name: "late"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))
	require.Eventually(t, func() bool { return job.runs.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.SetEnabled("late", false))
	// Let an activation that was already claimed finish.
	time.Sleep(30 * time.Millisecond)
	paused := job.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused, job.runs.Load())
}

func TestScheduler_HistoryBounded(t *testing.T) {
	s := NewScheduler(SchedulerConfig{MaxHistorySize: 2})
	require.NoError(t, s.Register(&countingJob{name: "a"}, NewIntervalSchedule(time.Hour)))
	for range 4 {
		_, err := s.RunNow(context.Background(), "a")
		require.NoError(t, err)
	}
	assert.Len(t, s.History(0), 2)
	assert.Equal(t, int64(4), s.ListJobs()[0].RunCount)
}

func TestCronExpression_Next(t *testing.T) {
	tz := time.FixedZone("BRT", -3*3600)
	from := time.Date(2024, 5, 20, 10, 17, 30, 0, tz)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2024, 5, 20, 10, 30, 0, 0, tz)},
		{"0 3 * * *", time.Date(2024, 5, 21, 3, 0, 0, 0, tz)},
		{"30 9-17/4 * * 1-5", time.Date(2024, 5, 20, 13, 30, 0, 0, tz)},
		{"0 0 1 6 *", time.Date(2024, 6, 1, 0, 0, 0, 0, tz)},
		{"0 12 * * 0", time.Date(2024, 5, 26, 12, 0, 0, 0, tz)},
		{"5,45 10 * * *", time.Date(2024, 5, 20, 10, 45, 0, 0, tz)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ce.Next(from)), "got %s", ce.Next(from))
		})
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 30m")
	require.NoError(t, err)
	assert.Equal(t, "@every 30m0s", s.String())

	s, err = ParseSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * *", s.String())

	for _, bad := range []string{"", "@every soon", "@every -1m", "* * *", "61 * * * *", "*/0 * * * *", "5-2 * * * *"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}
