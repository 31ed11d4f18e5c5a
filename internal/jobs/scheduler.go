package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
)

// Runner processes one claimed job and returns a reference to its result.
type Runner interface {
	Run(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error)

func (f RunnerFunc) Run(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (string, error) {
	return f(ctx, job, cp)
}

// Checkpoint is handed to a Runner so it can report progress and observe
// cancellation between stages.
type Checkpoint interface {
	Progress(ctx context.Context, percent int)
	// Check returns a CANCELED error once cancellation was requested.
	Check(ctx context.Context) error
}

type checkpoint struct {
	mgr      *Manager
	id       uuid.UUID
	signal   <-chan struct{}
	canceled bool
}

func (c *checkpoint) Progress(ctx context.Context, percent int) {
	if _, err := c.mgr.ReportProgress(ctx, c.id, percent); err != nil {
		c.mgr.log.Warn("jobs.progress_failed", "job_id", c.id, "percent", percent, "err", err)
	}
}

func (c *checkpoint) Check(ctx context.Context) error {
	if c.canceled {
		return errCanceledByRequest
	}
	select {
	case <-c.signal:
		c.canceled = true
		return errCanceledByRequest
	default:
	}
	// another process may have flagged the job
	j, err := c.mgr.store.GetJob(ctx, c.id)
	if err == nil && j.CancelRequested {
		c.canceled = true
		return errCanceledByRequest
	}
	return nil
}

var errCanceledByRequest = common.NewAppError(common.CodeCanceled, "cancellation requested", nil)

// Scheduler claims due jobs under a fixed concurrency budget and runs them.
type Scheduler struct {
	mgr        *Manager
	runner     Runner
	log        *slog.Logger
	workers    int
	poll       time.Duration
	jobTimeout time.Duration

	slots chan struct{}
	freed chan struct{}
	wg    sync.WaitGroup
}

type Option func(*Scheduler)

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.jobTimeout = d
		}
	}
}

func NewScheduler(mgr *Manager, runner Runner, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		mgr:        mgr,
		runner:     runner,
		log:        logger,
		workers:    4,
		poll:       time.Second,
		jobTimeout: 3 * time.Minute,
		freed:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.slots = make(chan struct{}, s.workers)
	return s
}

// Run loops until ctx is done, then waits for in-flight jobs. Jobs
// interrupted by shutdown go back to the queue without spending an attempt.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler.started", "workers", s.workers, "poll", s.poll)
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("scheduler.stopped")
			return nil
		case <-ticker.C:
		case <-s.mgr.Wakeups():
		case <-s.freed:
		}
	}
}

// InFlight is the number of jobs currently running.
func (s *Scheduler) InFlight() int { return len(s.slots) }

func (s *Scheduler) dispatch(ctx context.Context) {
	free := cap(s.slots) - len(s.slots)
	if free == 0 || ctx.Err() != nil {
		return
	}
	claimed, err := s.mgr.Claim(ctx, free)
	if err != nil {
		s.log.Error("scheduler.claim_failed", "err", err)
		return
	}
	for _, j := range claimed {
		s.slots <- struct{}{}
		s.wg.Add(1)
		go s.execute(ctx, j)
	}
}

func (s *Scheduler) execute(parent context.Context, job *entity.ProcessingJob) {
	defer func() {
		<-s.slots
		s.wg.Done()
		select {
		case s.freed <- struct{}{}:
		default:
		}
	}()

	signal := s.mgr.track(job.ID)
	defer s.mgr.untrack(job.ID)
	cp := &checkpoint{mgr: s.mgr, id: job.ID, signal: signal}

	start := time.Now()
	ctx, cancel := context.WithTimeout(common.WithJobID(parent, job.ID.String()), s.jobTimeout)
	ref, err := s.runSafely(ctx, job, cp)
	cancel()
	metrics.ObserveStage("job", time.Since(start).Milliseconds())

	// finalize even when the scheduler is stopping
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(parent), 10*time.Second)
	defer fcancel()

	switch {
	case err == nil:
		_, err = s.mgr.Complete(fctx, job.ID, ref)
	case parent.Err() != nil && !cp.canceled:
		err = s.mgr.release(fctx, job.ID)
	case cp.canceled && common.HasCode(err, common.CodeCanceled):
		_, err = s.mgr.markCanceled(fctx, job.ID)
	default:
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = common.NewAppError(common.CodeCapabilityTimeout,
				fmt.Sprintf("job exceeded %s", s.jobTimeout), err)
		}
		_, err = s.mgr.Fail(fctx, job.ID, err)
	}
	if err != nil {
		s.log.Error("scheduler.finalize_failed", "job_id", job.ID, "err", err)
	}
}

func (s *Scheduler) runSafely(ctx context.Context, job *entity.ProcessingJob, cp Checkpoint) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler.job_panic", "job_id", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = common.NewAppError(common.CodeInternal, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return s.runner.Run(ctx, job, cp)
}
