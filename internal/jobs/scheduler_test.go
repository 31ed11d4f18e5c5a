package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

func startScheduler(t *testing.T, m *Manager, r Runner, opts ...Option) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	opts = append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)
	s := NewScheduler(m, r, nil, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func waitStatus(t *testing.T, m *Manager, id uuid.UUID, want constants.JobStatus) *entity.ProcessingJob {
	t.Helper()
	var last *entity.ProcessingJob
	require.Eventually(t, func() bool {
		j, err := m.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = j
		return j.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func realManager() *Manager {
	return NewManager(repository.NewMemoryStore(), nil, nil)
}

func TestSchedulerCompletesJobs(t *testing.T) {
	m := realManager()
	runner := RunnerFunc(func(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error) {
		cp.Progress(ctx, 50)
		if err := cp.Check(ctx); err != nil {
			return "", err
		}
		return "record:" + job.ID.String(), nil
	})
	startScheduler(t, m, runner)

	id := enqueue(t, m, constants.PriorityHigh)
	j := waitStatus(t, m, id, constants.JobStatusCompleted)
	assert.Equal(t, "record:"+id.String(), j.ResultRef)
	assert.Equal(t, 100, j.Progress)
}

func TestSchedulerRespectsWorkerBudget(t *testing.T) {
	m := realManager()
	var running, peak atomic.Int32
	release := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		return "ok", nil
	})
	startScheduler(t, m, runner, WithWorkers(2))

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		ids[i] = enqueue(t, m, constants.PriorityMedium)
	}
	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	for _, id := range ids {
		waitStatus(t, m, id, constants.JobStatusCompleted)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestSchedulerRecoversPanics(t *testing.T) {
	m := realManager()
	runner := RunnerFunc(func(context.Context, *entity.ProcessingJob, Checkpoint) (string, error) {
		panic("table parser exploded")
	})
	startScheduler(t, m, runner)

	id := enqueue(t, m, constants.PriorityMedium)
	j := waitStatus(t, m, id, constants.JobStatusFailed)
	require.NotNil(t, j.LastError)
	assert.Equal(t, common.CodeInternal, j.LastError.Code)
	assert.Contains(t, j.LastError.Message, "table parser exploded")

	// the loop keeps serving after a panic
	ok := enqueue(t, m, constants.PriorityMedium)
	waitStatus(t, m, ok, constants.JobStatusFailed)
}

func TestSchedulerObservesCancelAtCheckpoint(t *testing.T) {
	m := realManager()
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error) {
		close(started)
		for {
			if err := cp.Check(ctx); err != nil {
				return "", err
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	startScheduler(t, m, runner)

	id := enqueue(t, m, constants.PriorityMedium)
	<-started
	_, err := m.Cancel(context.Background(), id)
	require.NoError(t, err)

	j := waitStatus(t, m, id, constants.JobStatusCanceled)
	assert.Equal(t, common.CodeCanceled, j.LastError.Code)
	assert.Equal(t, 0, j.Attempts)
}

func TestSchedulerTimeoutIsRetryable(t *testing.T) {
	m := realManager()
	var calls atomic.Int32
	runner := RunnerFunc(func(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})
	startScheduler(t, m, runner, WithJobTimeout(20*time.Millisecond))

	id := enqueue(t, m, constants.PriorityMedium)
	require.Eventually(t, func() bool {
		j, err := m.Get(context.Background(), id)
		return err == nil && j.Attempts == 1
	}, 2*time.Second, 5*time.Millisecond)

	j, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, j.Status)
	assert.Equal(t, common.CodeCapabilityTimeout, j.LastError.Code)
	assert.True(t, j.ScheduledFor.After(time.Now()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerShutdownReleasesInFlight(t *testing.T) {
	m := realManager()
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	stop, done := startScheduler(t, m, runner)

	id := enqueue(t, m, constants.PriorityMedium)
	<-started
	stop()
	<-done

	j, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusQueued, j.Status)
	assert.Equal(t, 0, j.Attempts)
}
