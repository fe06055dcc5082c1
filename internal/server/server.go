// Package server exposes the analysis pipeline over HTTP: datasets are
// uploaded into in-memory sessions and queried in natural language.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/KaramelBytes/tabloom/internal/ai"
	"github.com/KaramelBytes/tabloom/internal/classify"
	"github.com/KaramelBytes/tabloom/internal/dataset"
	"github.com/KaramelBytes/tabloom/internal/insight"
	"github.com/KaramelBytes/tabloom/internal/instruction"
	"github.com/KaramelBytes/tabloom/internal/logging"
	"github.com/KaramelBytes/tabloom/internal/pipeline"
	_ "github.com/KaramelBytes/tabloom/internal/server/docs"
)

const (
	defaultMaxUpload = 50 << 20
	pingTimeout      = 5 * time.Second
)

// Config wires a Server. Nil components are built with rules-only defaults,
// so a zero Config serves a fully deterministic API.
type Config struct {
	Classifier *classify.Classifier
	Planner    *instruction.Planner
	Narrator   *insight.Narrator
	Engine     *pipeline.Engine

	// Runtime and Model are reported by /health.
	Runtime ai.Runtime
	Model   string

	Load           dataset.Options
	MaxUploadBytes int64
	Logger         log.Logger
	// Registry receives the server metrics; a fresh registry when nil.
	Registry *prometheus.Registry
}

// Server holds sessions and serves the HTTP API.
type Server struct {
	cfg      Config
	logger   log.Logger
	sessions *store
	metrics  *metrics
	handler  http.Handler
}

func New(cfg Config) *Server {
	logger := logging.OrNop(cfg.Logger)
	if cfg.Classifier == nil {
		cfg.Classifier = classify.New(classify.Config{Logger: logger})
	}
	if cfg.Planner == nil {
		cfg.Planner = instruction.NewPlanner(instruction.Config{Logger: logger})
	}
	if cfg.Narrator == nil {
		cfg.Narrator = insight.NewNarrator(insight.Config{Logger: logger})
	}
	if cfg.Engine == nil {
		cfg.Engine = pipeline.NewEngine(logger)
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: newStore(),
		metrics:  newMetrics(cfg.Registry),
	}
	s.handler = logRequests(logger, s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/upload", only(http.MethodPost, s.handleUpload))
	mux.Handle("/query", only(http.MethodPost, s.handleQuery))
	mux.Handle("/summary/{id}", only(http.MethodGet, s.handleSummary))
	mux.Handle("/sessions", only(http.MethodGet, s.handleSessions))
	mux.Handle("/sessions/{id}", only(http.MethodDelete, s.handleDelete))
	mux.Handle("/sessions/{id}/export", only(http.MethodGet, s.handleExport))
	mux.Handle("/health", only(http.MethodGet, s.handleHealth))
	mux.Handle("/metrics", metricsHandler(s.cfg.Registry))
	mux.Handle("/swagger/", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	return mux
}

// Handler returns the logged, routed API.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is done, then shuts down within
// a few seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	level.Info(s.logger).Log("msg", "listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	level.Info(s.logger).Log("msg", "server stopped")
	return nil
}
