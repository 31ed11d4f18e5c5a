package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
)

func TestBrokerRoutesByJob(t *testing.T) {
	b := NewBroker(nil)
	a, other := uuid.New(), uuid.New()

	chA, stopA := b.Subscribe(a)
	defer stopA()
	chAll, stopAll := b.Subscribe(uuid.Nil)
	defer stopAll()

	now := time.Now()
	require.NoError(t, b.Publish(context.Background(), NewEvent(a, constants.JobStatusProcessing, now)))
	require.NoError(t, b.Publish(context.Background(), NewEvent(other, constants.JobStatusQueued, now)))

	ev := <-chA
	assert.Equal(t, a, ev.JobID)
	assert.Equal(t, constants.JobStatusProcessing, ev.Status)
	assert.Len(t, ev.ID, 26)
	select {
	case ev := <-chA:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	assert.Equal(t, a, (<-chAll).JobID)
	assert.Equal(t, other, (<-chAll).JobID)
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker(nil)
	id := uuid.New()
	ch, stop := b.Subscribe(id)
	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, b.Publish(context.Background(), NewEvent(id, constants.JobStatusProcessing, time.Now())))
	}
	assert.Len(t, ch, subscriberBuffer)

	stop()
	stop()
	assert.Equal(t, 0, b.Subscribers())
	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}

func TestEventIDsSortByTime(t *testing.T) {
	id := uuid.New()
	first := NewEvent(id, constants.JobStatusQueued, time.Unix(1700000000, 0))
	second := NewEvent(id, constants.JobStatusProcessing, time.Unix(1700000001, 0))
	assert.Less(t, first.ID, second.ID)
}
