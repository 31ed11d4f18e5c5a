// Package web exposes jobs, records and eligibility scoring over HTTP, with
// a websocket feed for job status changes.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/eligibility"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/notify"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

// Jobs is the job manager surface the handlers use.
type Jobs interface {
	Enqueue(ctx context.Context, req jobs.EnqueueRequest) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	List(ctx context.Context, f repository.JobFilter) ([]*entity.ProcessingJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	Subscribe(id uuid.UUID) (<-chan notify.Event, func())
}

// Records is the read side of the record store.
type Records interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error)
	ListRecords(ctx context.Context, f repository.RecordFilter) ([]*entity.NormalizedRecord, error)
	GetQA(ctx context.Context, recordID uuid.UUID) (*entity.QAResult, error)
}

// Exporter renders the review workbook.
type Exporter interface {
	ExportReviewXLSX(ctx context.Context, onlyAdmin bool, limit int) ([]byte, error)
}

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

type Server struct {
	jobs     Jobs
	records  Records
	scoring  *eligibility.Service
	export   Exporter
	health   HealthFunc
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

type Option func(*Server)

func WithExporter(e Exporter) Option { return func(s *Server) { s.export = e } }

func WithHealth(h HealthFunc) Option { return func(s *Server) { s.health = h } }

func NewServer(j Jobs, records Records, scoring *eligibility.Service, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		jobs:    j,
		records: records,
		scoring: scoring,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleEnqueue)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Get("/{id}/watch", s.handleWatch)
		})
		r.Route("/records", func(r chi.Router) {
			r.Get("/", s.handleListRecords)
			r.Get("/review.xlsx", s.handleExport)
			r.Get("/{id}", s.handleGetRecord)
			r.Get("/{id}/qa", s.handleGetQA)
		})
		r.Post("/eligibility/score", s.handleScore)
		r.Post("/eligibility/rank", s.handleRank)
	})
	return r
}

// NewHTTPServer wraps the routes with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("http.health_failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
