package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/app"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/ingest"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/server"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/web"
)

func main() {
	cfg, err := common.LoadConfig(os.Getenv("SUBSIDY_CONFIG"))
	if err != nil {
		common.NewLogger(common.LogConfig{}, os.Stderr).Error("failed to load config", "err", err)
		os.Exit(2)
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "err", err)
		os.Exit(2)
	}
	logger.Info("subsidyd starting",
		"db_driver", cfg.Database.Driver,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
		"workers", cfg.Jobs.Workers,
		"provider", cfg.Capability.Provider,
	)
	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Scheduler().Run(gctx) })
	g.Go(func() error { return a.RunNotifier(gctx) })

	if cfg.Server.HTTPAddr != "" {
		api := web.NewServer(a.Jobs, a.Store, a.Scoring, logger,
			web.WithExporter(a.Export),
			web.WithHealth(storeHealth(a.Store)),
		)
		srv := api.NewHTTPServer(cfg.Server.HTTPAddr)
		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "err", err)
			os.Exit(1)
		}
		grpcServer := grpc.NewServer()
		server.NewJobsService(a.Jobs, logger).Register(grpcServer)

		healthServer := health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		healthServer.SetServingStatus(server.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

		g.Go(func() error {
			logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	if len(cfg.Inbox.Dirs) > 0 {
		ing := ingest.NewIngestor(a.Jobs, "", logger)
		g.Go(func() error {
			return ing.Watch(gctx, ingest.WatchConfig{
				Roots:       cfg.Inbox.Dirs,
				InitialScan: true,
				Debounce:    cfg.Inbox.Debounce,
			})
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("subsidyd stopped with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("subsidyd stopped")
}

// storeHealth pings the database when the store is SQL backed.
func storeHealth(s repository.Store) web.HealthFunc {
	sqlStore, ok := s.(*repository.SQLStore)
	if !ok {
		return func(context.Context) error { return nil }
	}
	return func(ctx context.Context) error {
		return repository.HealthCheck(ctx, sqlStore.Conn().DB(), 2*time.Second, nil)
	}
}
