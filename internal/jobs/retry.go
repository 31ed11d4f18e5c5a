package jobs

import (
	"time"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/utils"
)

// RetryPolicy decides whether a failed attempt is retried and when. It is
// the only place retryability is decided.
type RetryPolicy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: 5 * time.Second, Multiplier: 2, Max: 10 * time.Minute}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	return p
}

// Retryable reports whether an error with code may be retried. malformed is
// how many malformed capability responses the job has seen, including this
// one: the first is retried, any later one is fatal.
func (p RetryPolicy) Retryable(code string, malformed int) bool {
	switch code {
	case common.CodeCapabilityTimeout,
		common.CodeCapabilityRateLimited,
		common.CodeCapabilityUnavailable,
		common.CodeStoreWriteFailure,
		common.CodeSourceUnavailable:
		return true
	case common.CodeCapabilityMalformedResponse:
		return malformed <= 1
	}
	return false
}

// Backoff is the delay after the attempt-th failure (0-based):
// Base * Multiplier^attempt, capped at Max.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return utils.Backoff(p.Base, p.Multiplier, attempt, p.Max)
}
