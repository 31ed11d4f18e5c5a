// Package notify pushes job status changes to subscribers. Events carry only
// the job ID and status; subscribers re-read the store for details. There
// are no delivery guarantees: slow subscribers lose events.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
)

// Event is a status change notification.
type Event struct {
	ID     string              `json:"id"`
	JobID  uuid.UUID           `json:"job_id"`
	Status constants.JobStatus `json:"status"`
	At     time.Time           `json:"at"`
}

// NewEvent stamps an event with a sortable ID.
func NewEvent(jobID uuid.UUID, status constants.JobStatus, at time.Time) Event {
	return Event{
		ID:     ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		JobID:  jobID,
		Status: status,
		At:     at,
	}
}

// Notifier publishes events and hands out subscriptions.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe returns events for jobID, or for every job when jobID is
	// uuid.Nil. The returned func ends the subscription and closes the
	// channel.
	Subscribe(jobID uuid.UUID) (<-chan Event, func())
}

const subscriberBuffer = 16

type subscriber struct {
	ch     chan Event
	jobID  uuid.UUID
	closed bool
}

// Broker is the in-process Notifier.
type Broker struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	log  *slog.Logger
}

var _ Notifier = (*Broker)(nil)

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: map[*subscriber]struct{}{}, log: logger}
}

func (b *Broker) Publish(_ context.Context, ev Event) error {
	b.deliver(ev)
	return nil
}

func (b *Broker) deliver(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if s.jobID != uuid.Nil && s.jobID != ev.JobID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.log.Warn("notify.dropped", "job_id", ev.JobID, "status", ev.Status)
		}
	}
}

func (b *Broker) Subscribe(jobID uuid.UUID) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer), jobID: jobID}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, s)
			if !s.closed {
				s.closed = true
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
