package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobFinishedLabels(t *testing.T) {
	before := testutil.ToFloat64(jobsFinished.WithLabelValues("completed", "none"))
	JobFinished(" Completed ", "")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsFinished.WithLabelValues("completed", "none")))

	JobFinished("failed", "UNSUPPORTED_FORMAT")
	assert.Equal(t, 1.0, testutil.ToFloat64(jobsFinished.WithLabelValues("failed", "unsupported_format")))
}

func TestCapabilityCallCountsOutcome(t *testing.T) {
	ObserveCapabilityCall("OpenAI", "gpt-4o-mini", "ok", 120)
	ObserveCapabilityCall("openai", "gpt-4o-mini", "CAPABILITY_TIMEOUT", 45000)
	assert.Equal(t, 1.0, testutil.ToFloat64(capabilityCalls.WithLabelValues("openai", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(capabilityCalls.WithLabelValues("openai", "capability_timeout")))
}

func TestMustRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		MustRegister()
		MustRegister()
	})
}
