package capability

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/ratelimit"
)

// New builds the configured provider client wrapped in the shared limiter.
func New(ctx context.Context, cfg *common.Config, schema *normalize.Schema, limiter ratelimit.Limiter, logger *slog.Logger) (extract.Capability, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cc := Config{
		APIKey:          cfg.Capability.APIKey,
		BaseURL:         cfg.Capability.BaseURL,
		Model:           cfg.Capability.Model,
		Temperature:     cfg.Capability.Temperature,
		Timeout:         cfg.Capability.Timeout,
		MaxPromptTokens: cfg.Capability.MaxPromptTokens,
	}

	var (
		inner extract.Capability
		err   error
	)
	switch cfg.Capability.Provider {
	case ProviderGemini:
		inner, err = NewGemini(ctx, cc, schema, logger)
	case ProviderOpenAI, "":
		inner, err = NewOpenAI(cc, schema, logger)
	default:
		return nil, common.NewAppError(common.CodeConfig, "unknown capability provider "+cfg.Capability.Provider, nil)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("capability.ready",
		"provider", cfg.Capability.Provider,
		"model", cfg.Capability.Model,
		"limiter", cfg.RateLimit.Backend,
		"concurrency", cfg.Jobs.Workers,
	)
	return NewLimited(inner, limiter, LimitConfig{
		Provider:    cfg.Capability.Provider,
		Model:       cfg.Capability.Model,
		Backend:     cfg.RateLimit.Backend,
		Concurrency: cfg.Jobs.Workers,
		Timeout:     cfg.Capability.Timeout,
		MaxRetries:  cfg.RateLimit.MaxRetries,
		BackoffBase: cfg.RateLimit.BackoffBase,
		BackoffMax:  cfg.RateLimit.BackoffMax,
	}, logger), nil
}

// NewLimiter builds the limiter named by cfg.RateLimit.Backend. The returned
// closer releases the redis connection, if any.
func NewLimiter(ctx context.Context, cfg *common.Config) (ratelimit.Limiter, func() error, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		rc, err := ratelimit.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, common.NewAppError(common.CodeConfig, "connect redis limiter", err)
		}
		limit := int(cfg.RateLimit.RatePerSecond)
		if limit < 1 {
			limit = 1
		}
		return ratelimit.NewWindow(rc, "capability", limit, time.Second), rc.Close, nil
	case "none":
		return ratelimit.Unlimited{}, func() error { return nil }, nil
	default:
		return ratelimit.NewTokenBucket(cfg.RateLimit.RatePerSecond, cfg.RateLimit.Burst), func() error { return nil }, nil
	}
}
