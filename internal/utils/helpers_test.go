package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	assert.Equal(t, 2*time.Second, Backoff(base, 2, 0, 0))
	assert.Equal(t, 4*time.Second, Backoff(base, 2, 1, 0))
	assert.Equal(t, 16*time.Second, Backoff(base, 2, 3, 0))
	assert.Equal(t, 10*time.Second, Backoff(base, 2, 3, 10*time.Second))
	assert.Equal(t, time.Duration(0), Backoff(0, 2, 3, 0))
	assert.Equal(t, time.Hour, Backoff(base, 2, 5000, time.Hour))
}

func TestClampAndTruncate(t *testing.T) {
	assert.Equal(t, 0, ClampInt(-5, 0, 100))
	assert.Equal(t, 100, ClampInt(250, 0, 100))
	assert.Equal(t, 42, ClampInt(42, 0, 100))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.0, Clamp01(-0.1))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab…", Truncate("abcdef", 3))
}

func TestParseYMD(t *testing.T) {
	d, err := ParseYMD("2025-03-15")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), d)
	_, err = ParseYMD("15/03/2025")
	assert.Error(t, err)
}
