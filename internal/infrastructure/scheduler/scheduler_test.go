package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xammer/billops/internal/infrastructure/config"
)

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:           true,
		MaxConcurrentJobs: 2,
		JobTimeout:        time.Second,
		RetryAttempts:     2,
		RetryDelay:        5 * time.Millisecond,
	}
}

func startScheduler(t *testing.T, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	t.Helper()
	s := NewScheduler(cfg, logger)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func waitJob(t *testing.T, ch <-chan *Job) *Job {
	t.Helper()
	select {
	case job := <-ch:
		return job
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
		return nil
	}
}

func TestScheduler_RunsJob(t *testing.T) {
	s := startScheduler(t, testConfig(), zaptest.NewLogger(t))
	done := make(chan *Job, 1)

	var ran atomic.Bool
	job := NewJob("dashboards", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}, 0).NotifyDone(done)
	require.NoError(t, s.SubmitJob(job))

	got := waitJob(t, done)
	assert.True(t, ran.Load())
	assert.Equal(t, JobStatusSuccess, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.Error)
}

func TestScheduler_RetriesUntilSuccess(t *testing.T) {
	s := startScheduler(t, testConfig(), zaptest.NewLogger(t))
	done := make(chan *Job, 1)

	var calls atomic.Int32
	job := NewJob("flaky", func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("provider down")
		}
		return nil
	}, 3).NotifyDone(done)
	require.NoError(t, s.SubmitJob(job))

	got := waitJob(t, done)
	assert.Equal(t, JobStatusSuccess, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, int32(3), calls.Load())
}

func TestScheduler_GivesUpAfterMaxRetries(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := startScheduler(t, testConfig(), zap.New(core))
	done := make(chan *Job, 1)

	var calls atomic.Int32
	job := NewJob("broken", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("always fails")
	}, 1).NotifyDone(done)
	require.NoError(t, s.SubmitJob(job))

	got := waitJob(t, done)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "always fails", got.Error)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, logs.FilterMessage("Job failed").Len())
}

func TestScheduler_PanicFailsJob(t *testing.T) {
	s := startScheduler(t, testConfig(), zaptest.NewLogger(t))
	done := make(chan *Job, 1)

	job := NewJob("panics", func(ctx context.Context) error {
		panic("nil map")
	}, 0).NotifyDone(done)
	require.NoError(t, s.SubmitJob(job))

	got := waitJob(t, done)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "nil map")

	// the worker survived the panic
	next := NewJob("after", func(ctx context.Context) error { return nil }, 0).NotifyDone(done)
	require.NoError(t, s.SubmitJob(next))
	assert.Equal(t, JobStatusSuccess, waitJob(t, done).Status)
}

func TestScheduler_JobTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.JobTimeout = 20 * time.Millisecond
	s := startScheduler(t, cfg, zaptest.NewLogger(t))
	done := make(chan *Job, 1)

	job := NewJob("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 0).NotifyDone(done)
	require.NoError(t, s.SubmitJob(job))

	got := waitJob(t, done)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, context.DeadlineExceeded.Error())
}

func TestScheduler_SubmitWhenStopped(t *testing.T) {
	s := NewScheduler(testConfig(), zaptest.NewLogger(t))
	job := NewJob("noop", func(context.Context) error { return nil }, 0)
	assert.ErrorIs(t, s.SubmitJob(job), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.SubmitJob(job), ErrSchedulerNotRunning)
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{}, zap.NewNop())
	assert.Equal(t, 1, s.config.MaxConcurrentJobs)
	assert.Equal(t, 30*time.Minute, s.config.JobTimeout)
}
