// Package gateway exposes the HTTP surfaces of a Cortex node: the typed
// pathway endpoint, the WebSocket progress feed, and, when enabled, the
// OpenAI-compatible REST surface. Everything routes into the executor;
// the gateway owns only wire translation and transport concerns.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexgw/cortex/internal/config"
	"github.com/cortexgw/cortex/internal/executor"
	"github.com/cortexgw/cortex/internal/filehandler"
	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/internal/progress"
)

// Options wires a server.
type Options struct {
	Config config.ServerConfig

	Executor *executor.Executor
	Bus      *progress.Bus

	// Files, when non-nil, mounts the embedded file handler.
	Files *filehandler.Handler

	Metrics *observability.Metrics
	Logger  *observability.Logger

	// Events backs the /debug/timeline endpoint. Nil disables it even
	// in debug mode.
	Events *observability.EventStore

	// Gatherer backs /metrics. Nil selects the default registry.
	Gatherer prometheus.Gatherer
}

// Server is the HTTP front of one gateway node.
type Server struct {
	cfg  config.ServerConfig
	exec *executor.Executor
	bus  *progress.Bus

	metrics *observability.Metrics
	logger  *observability.Logger
	events  *observability.EventStore

	httpServer *http.Server
	listener   net.Listener
}

// New builds the server and its route table.
func New(opts Options) (*Server, error) {
	if opts.Executor == nil || opts.Bus == nil {
		return nil, fmt.Errorf("gateway requires an executor and a progress bus")
	}
	s := &Server{
		cfg:     opts.Config,
		exec:    opts.Executor,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		events:  opts.Events,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/v1/pathways/", s.handlePathway)
	mux.HandleFunc("/v1/progress/ws", s.handleProgressWS)

	if opts.Config.EnableREST {
		mux.HandleFunc("/v1/models", s.handleModels)
		mux.HandleFunc("/v1/completions", s.handleCompletions)
		mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	}

	if opts.Files != nil {
		opts.Files.Register(mux)
	}

	if opts.Config.Debug {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		if s.events != nil {
			mux.HandleFunc("/debug/timeline", s.handleTimeline)
		}
	}

	handler := http.Handler(mux)
	if opts.Config.RateLimit.Enabled {
		handler = newClientLimiter(opts.Config.RateLimit, handler)
	}
	handler = s.instrument(handler)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Config.Host, opts.Config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler exposes the composed route table, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens and serves until Shutdown or a listener failure.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	if s.logger != nil {
		s.logger.Info(context.Background(), "gateway listening",
			"addr", listener.Addr().String(),
			"rest", s.cfg.EnableREST,
			"node_id", s.cfg.NodeID,
		)
	}
	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr reports the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests within the configured window.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleTimeline serves the recorded event timeline for one request,
// debug mode only.
func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "requestId query parameter required")
		return
	}
	events := s.events.ByRequestID(requestID)
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "not_found_error", "no events recorded for request "+requestID)
		return
	}
	writeJSON(w, http.StatusOK, observability.BuildTimeline(events))
}
