// Package app assembles the pipeline from configuration. Both binaries build
// their components through New so the daemon and the CLI process documents
// the same way.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-redis/redis/v8"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/capability"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/eligibility"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/export"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/notify"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/ocr"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/pipeline"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/qa"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config     *common.Config
	Logger     *slog.Logger
	Store      repository.Store
	Schema     *normalize.Schema
	Normalizer *normalize.Normalizer
	QA         *qa.Validator
	Scoring    *eligibility.Service
	Extractor  *extract.Registry
	Notifier   notify.Notifier
	Jobs       *jobs.Manager
	Processor  *pipeline.Processor
	Export     *export.Service

	relay   *notify.Redis
	closers []func() error
}

// Option adjusts how New builds the app.
type Option func(*options)

type options struct {
	store      repository.Store
	capability extract.Capability
}

// WithStore uses s instead of opening cfg.Database.
func WithStore(s repository.Store) Option {
	return func(o *options) { o.store = s }
}

// WithCapability uses c instead of the configured provider client.
func WithCapability(c extract.Capability) Option {
	return func(o *options) { o.capability = c }
}

// New wires every component. On error everything opened so far is closed.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Schema = normalize.DefaultSchema()
	if cfg.Pipeline.SchemaPath != "" {
		if a.Schema, err = normalize.LoadSchema(cfg.Pipeline.SchemaPath); err != nil {
			return nil, common.NewAppError(common.CodeConfig, "load schema "+cfg.Pipeline.SchemaPath, err)
		}
	}

	a.Store = o.store
	if a.Store == nil {
		s, err := repository.OpenStore(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.Store = s
	}
	a.closers = append(a.closers, a.Store.Close)

	capab := o.capability
	if capab == nil {
		limiter, closeLimiter, err := capability.NewLimiter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeLimiter)
		if capab, err = capability.New(ctx, cfg, a.Schema, limiter, logger); err != nil {
			return nil, err
		}
	}

	pdf := ocr.NewExtractor(ocr.Config{
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
	}, logger)
	a.Extractor = extract.DefaultRegistry(extract.Options{
		Source:     extract.DefaultSources(logger),
		Capability: capab,
		MaxBytes:   cfg.Pipeline.MaxDocumentBytes,
		Logger:     logger,
	}, pdf)

	a.Normalizer = normalize.New(a.Schema, normalize.ParseDateOrder(cfg.Pipeline.DateOrder), logger)
	a.QA = qa.NewValidator(qa.Config{
		ConfidenceThreshold:   cfg.Pipeline.ConfidenceThreshold,
		CompletenessThreshold: cfg.Pipeline.CompletenessThreshold,
		IntegrityThreshold:    cfg.Pipeline.IntegrityThreshold,
	}, logger)

	scoreCfg := eligibility.DefaultConfig()
	if cfg.Pipeline.PenaltyPerMissingDoc > 0 {
		scoreCfg.PenaltyPerMissingDoc = cfg.Pipeline.PenaltyPerMissingDoc
	}
	a.Scoring = eligibility.NewService(eligibility.NewScorer(scoreCfg, logger), a.Store, a.Store, logger)

	if cfg.Redis.Notify {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, common.NewAppError(common.CodeConfig, "connect redis notifier", err)
		}
		a.closers = append(a.closers, rdb.Close)
		a.relay = notify.NewRedis(rdb, cfg.Redis.Channel, logger)
		a.Notifier = a.relay
	} else {
		a.Notifier = notify.NewBroker(logger)
	}

	a.Jobs = jobs.NewManager(a.Store, a.Notifier, logger,
		jobs.WithDefaultMaxAttempts(cfg.Jobs.DefaultMaxAttempt),
		jobs.WithRetryPolicy(jobs.RetryPolicy{
			Base:       cfg.Jobs.BackoffBase,
			Multiplier: cfg.Jobs.BackoffMultiplier,
			Max:        cfg.Jobs.BackoffMax,
		}),
	)
	a.Processor = pipeline.NewProcessor(logger, a.Extractor, a.Normalizer, a.QA, a.Store)
	a.Export = export.NewService(a.Store, logger)
	return a, nil
}

// Scheduler builds a scheduler running the document pipeline.
func (a *App) Scheduler() *jobs.Scheduler {
	return jobs.NewScheduler(a.Jobs, a.Processor, a.Logger,
		jobs.WithWorkers(a.Config.Jobs.Workers),
		jobs.WithPollInterval(a.Config.Jobs.PollInterval),
		jobs.WithJobTimeout(a.Config.Jobs.JobTimeout),
	)
}

// RunNotifier relays redis events to local subscribers until ctx is done.
// It returns immediately when the in-process broker is used.
func (a *App) RunNotifier(ctx context.Context) error {
	if a.relay == nil {
		return nil
	}
	err := a.relay.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("app.close failed", "err", err)
		}
	}
	a.closers = nil
}
