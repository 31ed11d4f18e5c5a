// Package jobs owns processing jobs: enqueue, claim, progress, completion,
// retries and cancellation, plus the scheduler loop that runs claimed jobs
// through the pipeline.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/notify"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/utils"
)

const defaultMaxAttempts = 3

// EnqueueRequest describes a document to process.
type EnqueueRequest struct {
	DocumentRef string
	Kind        constants.DocumentKind
	SizeBytes   int64
	Priority    constants.Priority
	MaxAttempts int
}

// Manager applies the job state machine on top of a JobStore. Every state
// change is committed to the store before it is announced.
type Manager struct {
	store       repository.JobStore
	notifier    notify.Notifier
	policy      RetryPolicy
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	signals map[uuid.UUID]chan struct{}
	wake    chan struct{}
}

type ManagerOption func(*Manager)

func WithRetryPolicy(p RetryPolicy) ManagerOption {
	return func(m *Manager) { m.policy = p.withDefaults() }
}

func WithDefaultMaxAttempts(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(store repository.JobStore, notifier notify.Notifier, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewBroker(logger)
	}
	m := &Manager{
		store:       store,
		notifier:    notifier,
		policy:      DefaultRetryPolicy(),
		maxAttempts: defaultMaxAttempts,
		log:         logger,
		now:         func() time.Time { return time.Now().UTC() },
		signals:     map[uuid.UUID]chan struct{}{},
		wake:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Policy returns the retry policy in use.
func (m *Manager) Policy() RetryPolicy { return m.policy }

// Wakeups fires after work becomes due sooner than the next poll.
func (m *Manager) Wakeups() <-chan struct{} { return m.wake }

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	ref := strings.TrimSpace(req.DocumentRef)
	if ref == "" {
		return uuid.Nil, common.NewAppError(common.CodeInvalidInput, "document ref is required", common.ErrInvalidInput)
	}
	kind, ok := constants.ParseKind(string(req.Kind))
	if !ok {
		return uuid.Nil, common.NewAppError(common.CodeUnsupportedFormat, fmt.Sprintf("unknown document kind %q", req.Kind), nil)
	}
	if req.SizeBytes < 0 {
		return uuid.Nil, common.NewAppError(common.CodeInvalidInput, "size must not be negative", common.ErrInvalidInput)
	}
	prio, ok := constants.ParsePriority(string(req.Priority))
	if !ok {
		return uuid.Nil, common.NewAppError(common.CodeInvalidInput, fmt.Sprintf("unknown priority %q", req.Priority), common.ErrInvalidInput)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = m.maxAttempts
	}

	now := m.now()
	job := &entity.ProcessingJob{
		ID:           uuid.New(),
		DocumentRef:  ref,
		Kind:         kind,
		SizeBytes:    req.SizeBytes,
		Priority:     prio,
		Status:       constants.JobStatusQueued,
		MaxAttempts:  maxAttempts,
		ScheduledFor: now,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		m.log.Error("jobs.enqueue_failed", "ref", ref, "err", err)
		return uuid.Nil, err
	}
	metrics.JobEnqueued(string(kind))
	m.log.Info("jobs.enqueued", "job_id", job.ID, "ref", ref, "kind", kind, "priority", prio)
	m.publish(ctx, job)
	m.poke()
	return job.ID, nil
}

// Claim moves up to budget due jobs to processing. The store makes the
// selection atomic, so two callers never receive the same job.
func (m *Manager) Claim(ctx context.Context, budget int) ([]*entity.ProcessingJob, error) {
	if budget <= 0 {
		return nil, nil
	}
	claimed, err := m.store.ClaimDue(ctx, m.now(), budget)
	if err != nil {
		return nil, err
	}
	for _, j := range claimed {
		m.log.Info("jobs.claimed", "job_id", j.ID, "attempt", j.Attempts+1, "priority", j.Priority)
		m.publish(ctx, j)
	}
	return claimed, nil
}

// ReportProgress records percent (clamped to 0..100) for a processing job.
// Values not above the current progress are ignored.
func (m *Manager) ReportProgress(ctx context.Context, id uuid.UUID, percent int) (*entity.ProcessingJob, error) {
	percent = utils.ClampInt(percent, 0, 100)
	changed := false
	j, err := m.store.MutateJob(ctx, id, func(j *entity.ProcessingJob) error {
		if j.Status != constants.JobStatusProcessing {
			return transition(j, "report progress")
		}
		if percent <= j.Progress {
			return errUnchanged
		}
		j.Progress = percent
		changed = true
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return m.store.GetJob(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if changed {
		m.publish(ctx, j)
	}
	return j, nil
}

// Complete marks a processing job completed with a reference to its result.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID, resultRef string) (*entity.ProcessingJob, error) {
	j, err := m.store.MutateJob(ctx, id, func(j *entity.ProcessingJob) error {
		if j.Status != constants.JobStatusProcessing {
			return transition(j, "complete")
		}
		j.Status = constants.JobStatusCompleted
		j.Attempts++
		j.Progress = 100
		j.ResultRef = resultRef
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.JobFinished(string(j.Status), "")
	m.log.Info("jobs.completed", "job_id", id, "result_ref", resultRef, "attempts", j.Attempts)
	m.publish(ctx, j)
	return j, nil
}

// Fail records a failed attempt. A retryable error with attempts left
// requeues the job with backoff; anything else is terminal and keeps the
// classified error verbatim. A cancellation error, or a failure after a
// cancel request, ends the job as canceled.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, cause error) (*entity.ProcessingJob, error) {
	if cause == nil {
		cause = common.NewAppError(common.CodeInternal, "failed without an error", nil)
	}
	ae := common.Classify(cause)
	retried := false
	j, err := m.store.MutateJob(ctx, id, func(j *entity.ProcessingJob) error {
		if j.Status != constants.JobStatusProcessing {
			return transition(j, "fail")
		}
		j.Attempts++
		j.LastError = &entity.JobError{Code: ae.Code, Message: cause.Error()}
		if ae.Code == common.CodeCapabilityMalformedResponse {
			j.MalformedResponses++
		}

		switch {
		case ae.Code == common.CodeCanceled || j.CancelRequested:
			j.Status = constants.JobStatusCanceled
		case j.Attempts < j.MaxAttempts && m.policy.Retryable(ae.Code, j.MalformedResponses):
			j.Status = constants.JobStatusQueued
			j.ScheduledFor = m.now().Add(m.policy.Backoff(j.Attempts - 1))
			j.Progress = 0
			retried = true
		default:
			j.Status = constants.JobStatusFailed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if retried {
		metrics.JobRetried(ae.Code)
		m.log.Warn("jobs.retry_scheduled", "job_id", id, "code", ae.Code, "attempt", j.Attempts,
			"max_attempts", j.MaxAttempts, "scheduled_for", j.ScheduledFor, "err", cause)
	} else {
		metrics.JobFinished(string(j.Status), ae.Code)
		m.log.Error("jobs.failed", "job_id", id, "status", j.Status, "code", ae.Code, "attempts", j.Attempts, "err", cause)
	}
	m.publish(ctx, j)
	return j, nil
}

// Cancel stops a queued job immediately. A processing job is flagged and its
// worker is signalled; the worker stops at its next checkpoint.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	j, err := m.store.MutateJob(ctx, id, func(j *entity.ProcessingJob) error {
		switch j.Status {
		case constants.JobStatusQueued:
			j.Status = constants.JobStatusCanceled
			j.CancelRequested = true
		case constants.JobStatusProcessing:
			j.CancelRequested = true
		default:
			return transition(j, "cancel")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if j.Status == constants.JobStatusProcessing {
		m.signal(id)
		m.log.Info("jobs.cancel_requested", "job_id", id)
	} else {
		metrics.JobFinished(string(j.Status), common.CodeCanceled)
		m.log.Info("jobs.canceled", "job_id", id)
	}
	m.publish(ctx, j)
	return j, nil
}

// markCanceled finishes a processing job whose worker observed the cancel.
func (m *Manager) markCanceled(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	j, err := m.store.MutateJob(ctx, id, func(j *entity.ProcessingJob) error {
		if j.Status != constants.JobStatusProcessing {
			return transition(j, "cancel")
		}
		j.Status = constants.JobStatusCanceled
		j.LastError = &entity.JobError{Code: common.CodeCanceled, Message: "canceled on request"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.JobFinished(string(j.Status), common.CodeCanceled)
	m.log.Info("jobs.canceled", "job_id", id, "progress", j.Progress)
	m.publish(ctx, j)
	return j, nil
}

// release hands an interrupted job back to the queue without spending an
// attempt. Used when the scheduler shuts down mid-run.
func (m *Manager) release(ctx context.Context, id uuid.UUID) error {
	j, err := m.store.MutateJob(ctx, id, func(j *entity.ProcessingJob) error {
		if j.Status != constants.JobStatusProcessing {
			return transition(j, "release")
		}
		if j.CancelRequested {
			j.Status = constants.JobStatusCanceled
			return nil
		}
		j.Status = constants.JobStatusQueued
		j.Progress = 0
		j.ScheduledFor = m.now()
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info("jobs.released", "job_id", id, "status", j.Status)
	m.publish(ctx, j)
	return nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	return m.store.GetJob(ctx, id)
}

func (m *Manager) List(ctx context.Context, f repository.JobFilter) ([]*entity.ProcessingJob, error) {
	return m.store.ListJobs(ctx, f)
}

// Subscribe pushes status changes of id (every job when id is uuid.Nil).
func (m *Manager) Subscribe(id uuid.UUID) (<-chan notify.Event, func()) {
	return m.notifier.Subscribe(id)
}

func (m *Manager) publish(ctx context.Context, j *entity.ProcessingJob) {
	if err := m.notifier.Publish(ctx, notify.NewEvent(j.ID, j.Status, m.now())); err != nil {
		m.log.Warn("jobs.notify_failed", "job_id", j.ID, "err", err)
	}
}

// ---- cancel signals ----

func (m *Manager) track(id uuid.UUID) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.signals[id] = ch
	return ch
}

func (m *Manager) untrack(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.signals, id)
}

func (m *Manager) signal(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.signals[id]; ok {
		close(ch)
		delete(m.signals, id)
	}
}

var errUnchanged = errors.New("unchanged")

func transition(j *entity.ProcessingJob, op string) error {
	return fmt.Errorf("%s job %s in status %s: %w", op, j.ID, j.Status, common.ErrInvalidTransition)
}
