package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Morlock52/psscript-sub005/internal/config"
	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/llm"
	"github.com/Morlock52/psscript-sub005/internal/tool"
	"github.com/Morlock52/psscript-sub005/internal/workflow"
)

// Deps are the collaborators the HTTP API fronts.
type Deps struct {
	Orchestrator *workflow.Orchestrator
	Gate         *workflow.FeedbackGate
	Bus          events.Bus
	Registry     *tool.Registry
	Model        *llm.Client

	// StoreHealth, when set, is included in the health report.
	StoreHealth func(ctx context.Context) error
}

// Server is the HTTP API for the analysis service: synchronous and streaming
// analysis, feedback submission, status polling and service introspection.
type Server struct {
	cfg       config.ServerConfig
	deps      Deps
	logger    *slog.Logger
	publisher *StreamPublisher
	version   string
	startedAt time.Time

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.With("component", "http_server")
		}
	}
}

// WithVersion sets the version string reported by the info endpoint.
func WithVersion(version string) Option {
	return func(s *Server) {
		if version != "" {
			s.version = version
		}
	}
}

// New creates the HTTP server.
func New(cfg config.ServerConfig, deps Deps, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    slog.Default().With("component", "http_server"),
		version:   "dev",
		startedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publisher = NewStreamPublisher(deps.Bus, s.logger)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler builds the route table. Health stays outside auth so probes work
// without credentials.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /analyze", s.handleAnalyze)
	mux.HandleFunc("POST /analyze/batch", s.handleBatchAnalyze)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /threads/{id}", s.handleThreadStatus)
	mux.HandleFunc("GET /threads/{id}/events", s.handleThreadEvents)
	mux.HandleFunc("GET /info", s.handleInfo)

	var api http.Handler = mux
	if s.cfg.AuthToken != "" {
		api = bearerAuth(s.cfg.AuthToken, api)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.Handle("/", api)
	return root
}

// ListenAndServe runs the server until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
