package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurst(t *testing.T) {
	b := NewTokenBucket(1, 2)
	ctx := context.Background()

	ok, _, err := b.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, _ = b.Allow(ctx)
	assert.True(t, ok)

	ok, wait, _ := b.Allow(ctx)
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
}

func TestUnlimited(t *testing.T) {
	ok, _, err := Unlimited{}.Allow(context.Background())
	assert.NoError(t, err)
	assert.True(t, ok)
}

type memCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (m *memCounter) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Expire(_ context.Context, key string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expires[key] = d
	return nil
}

func TestWindow(t *testing.T) {
	c := newMemCounter()
	w := NewWindow(c, "test", 2, time.Second)
	now := time.Unix(1700000000, 250*int64(time.Millisecond))
	w.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := w.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := w.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 750*time.Millisecond, wait)
	assert.Len(t, c.expires, 1)

	now = now.Add(time.Second)
	ok, _, _ = w.Allow(ctx)
	assert.True(t, ok)
}
