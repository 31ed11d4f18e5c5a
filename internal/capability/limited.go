package capability

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/ratelimit"
)

// LimitConfig bounds every call to the wrapped capability.
type LimitConfig struct {
	Provider    string // metrics label
	Model       string // metrics label
	Backend     string // limiter backend, metrics label
	Concurrency int    // in-flight calls; 0 = unbounded
	Timeout     time.Duration
	MaxRetries  int // limiter rejections tolerated per call
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Limited shares one rate limiter and concurrency budget across all workers
// and gives every call an explicit deadline.
type Limited struct {
	inner   extract.Capability
	limiter ratelimit.Limiter
	sem     chan struct{}
	cfg     LimitConfig
	log     *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ extract.Capability = (*Limited)(nil)

func NewLimited(inner extract.Capability, limiter ratelimit.Limiter, cfg LimitConfig, logger *slog.Logger) *Limited {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 8 * time.Second
	}
	l := &Limited{inner: inner, limiter: limiter, cfg: cfg, log: logger, sleep: sleepCtx}
	if cfg.Concurrency > 0 {
		l.sem = make(chan struct{}, cfg.Concurrency)
	}
	return l
}

func (l *Limited) Extract(ctx context.Context, req extract.CapabilityRequest) (*extract.CapabilityResponse, error) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
			defer func() { <-l.sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := l.admit(ctx, req.DocumentRef); err != nil {
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()
	resp, err := l.inner.Extract(callCtx, req)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !common.HasCode(err, common.CodeCapabilityTimeout) {
			err = common.NewAppError(common.CodeCapabilityTimeout, "capability call exceeded "+l.cfg.Timeout.String(), err)
		}
		metrics.ObserveCapabilityCall(l.cfg.Provider, l.cfg.Model, common.CodeOf(err), elapsed)
		return nil, err
	}
	metrics.ObserveCapabilityCall(l.cfg.Provider, l.cfg.Model, "ok", elapsed)
	return resp, nil
}

// admit waits for the limiter with exponential backoff, giving up after
// MaxRetries rejections.
func (l *Limited) admit(ctx context.Context, ref string) error {
	for attempt := 0; ; attempt++ {
		ok, retryAfter, err := l.limiter.Allow(ctx)
		if err != nil {
			l.log.Warn("capability.limiter.error", "ref", ref, "err", err)
			return common.NewAppError(common.CodeCapabilityUnavailable, "rate limiter unavailable", err)
		}
		if ok {
			return nil
		}
		metrics.LimiterRejected(l.cfg.Backend)
		if attempt >= l.cfg.MaxRetries {
			l.log.Warn("capability.limiter.exhausted", "ref", ref, "rejections", attempt+1)
			return common.NewAppError(common.CodeCapabilityRateLimited, "rate limit retries exhausted", nil)
		}
		wait := l.backoff(attempt)
		if retryAfter > wait {
			wait = retryAfter
		}
		l.log.Debug("capability.limiter.backoff", "ref", ref, "attempt", attempt+1, "wait_ms", wait.Milliseconds())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limited) backoff(attempt int) time.Duration {
	d := time.Duration(float64(l.cfg.BackoffBase) * math.Pow(2, float64(attempt)))
	if d > l.cfg.BackoffMax || d <= 0 {
		return l.cfg.BackoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
