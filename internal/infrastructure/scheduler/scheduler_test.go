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

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Description() string           { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func TestParseCronExpression(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{expr: DailyMidnight},
		{expr: "@daily"},
		{expr: "*/15 8-18 * * 1-5"},
		{expr: "0,30 6 1 1,6 *"},
		{expr: "0 0 * *", wantErr: true},
		{expr: "60 0 * * *", wantErr: true},
		{expr: "0 5-2 * * *", wantErr: true},
		{expr: "*/0 * * * *", wantErr: true},
		{expr: "a * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := ParseCronExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCronExpression_NextInLocalZone(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	ce := MustParseCronExpression(DailyMidnight)

	// Clocks go back on 2025-10-26; midnight is still local midnight.
	after := time.Date(2025, 10, 25, 23, 59, 30, 0, london)
	next := ce.Next(after)
	assert.Equal(t, time.Date(2025, 10, 26, 0, 0, 0, 0, london), next)
	assert.Equal(t, 23, next.UTC().Hour())

	next = ce.Next(next)
	assert.Equal(t, time.Date(2025, 10, 27, 0, 0, 0, 0, london), next)
	assert.Equal(t, 0, next.UTC().Hour())
}

func TestCronExpression_DayFieldsOr(t *testing.T) {
	// The 1st of the month or any Monday.
	ce := MustParseCronExpression("0 9 1 * 1")

	next := ce.Next(time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)) // Monday 1st, after 09:00
	assert.Equal(t, time.Date(2025, 9, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("@every 90m")
	require.NoError(t, err)
	assert.Equal(t, "@every 1h30m0s", s.String())

	s, err = ParseSchedule("@midnight")
	require.NoError(t, err)
	assert.IsType(t, &CronExpression{}, s)

	_, err = ParseSchedule("@every soon")
	assert.Error(t, err)
	_, err = ParseSchedule("bogus")
	assert.Error(t, err)
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	var runs atomic.Int32
	job := &funcJob{name: "count", fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Hour)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Hour)), ErrNilJob)

	var completed []JobResult
	s.OnJobComplete(func(r JobResult) { completed = append(completed, r) })

	result, err := s.RunNow(context.Background(), "count")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Manual)
	assert.Equal(t, int32(1), runs.Load())
	require.Len(t, completed, 1)

	info, err := s.GetJobInfo("count")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.RunCount)
	assert.False(t, info.Running)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_RunNowRecoversPanic(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	require.NoError(t, s.Register(&funcJob{name: "panics", fn: func(context.Context) error {
		panic("kaboom")
	}}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)
	assert.Equal(t, int64(1), s.GetMetrics().Snapshot().TotalFailures)
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, s.Register(&funcJob{name: "slow", fn: func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}}, NewIntervalSchedule(time.Hour)))

	go func() { _, _ = s.RunNow(context.Background(), "slow") }()
	<-started

	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobInFlight)

	close(release)
	assert.Eventually(t, func() bool {
		info, _ := s.GetJobInfo("slow")
		return !info.Running
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_DueJobsRunOnTick(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 10 * time.Millisecond})
	ran := make(chan struct{}, 4)
	require.NoError(t, s.Register(&funcJob{name: "tick", fn: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return errors.New("failed on purpose")
	}}, NewIntervalSchedule(20*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	info, err := s.GetJobInfo("tick")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.FailCount, int64(1))
}
