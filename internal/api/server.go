// Package api exposes the HTTP surface: document submission, run status,
// live progress over Server-Sent Events and the caller's verified record.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/auth"
	"github.com/dharsanguruparan/AgeGate/internal/events"
	"github.com/dharsanguruparan/AgeGate/internal/model"
	"github.com/dharsanguruparan/AgeGate/internal/queue"
	"github.com/dharsanguruparan/AgeGate/internal/runs"
)

// Dispatcher hands an accepted submission to a worker.
type Dispatcher interface {
	EnqueueVerify(ctx context.Context, payload queue.VerifyPayload) error
}

// DocumentReader looks up a user's verified document.
type DocumentReader interface {
	GetVerifiedDocument(ctx context.Context, userID string) (*model.VerifiedDocumentEntry, error)
}

// Presigner turns a stored reference URL into a short-lived view URL.
type Presigner interface {
	ObjectKey(referenceURL string) (string, error)
	PresignURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
}

// Options are the settings the server reads.
type Options struct {
	Address         string
	MaxFileBytes    int64
	ShutdownTimeout time.Duration
	SignedURLTTL    time.Duration
	Gatherer        prometheus.Gatherer
}

// Server exposes HTTP endpoints for submissions and run visibility.
type Server struct {
	opts      Options
	dispatch  Dispatcher
	runs      runs.Store
	bus       events.Bus
	documents DocumentReader
	presigner Presigner
	tokens    *auth.TokenService
	logger    *zap.Logger

	server *http.Server
	once   sync.Once
}

// New constructs a Server. presigner may be nil, in which case records are
// returned without a view URL.
func New(opts Options, dispatch Dispatcher, runStore runs.Store, bus events.Bus, documents DocumentReader, presigner Presigner, tokens *auth.TokenService, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		opts:      opts,
		dispatch:  dispatch,
		runs:      runStore,
		bus:       bus,
		documents: documents,
		presigner: presigner,
		tokens:    tokens,
		logger:    logger,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.tokens.Middleware)
		r.Post("/documents", s.handleSubmit)
		r.Get("/documents/me", s.handleMyDocument)
		r.Get("/runs/{id}", s.handleRun)
		r.Get("/runs/{id}/events", s.handleRunEvents)
	})
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.opts.Address,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", zap.String("address", s.opts.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)))
	})
}
