// Package api provides HTTP handlers and the main API server logic for MindWatch.
//
// It exposes the assessment round-trip endpoint consumed by the watch
// client, biometric ingestion and alerting endpoints, patient data
// retrieval, and the chat and crisis-plan analysis endpoints. The API
// integrates the store, interview, analysis, speech and alerting
// modules.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mindwatch-health/mindwatch/internal/alerting"
	"github.com/mindwatch-health/mindwatch/internal/analysis"
	"github.com/mindwatch-health/mindwatch/internal/interview"
	"github.com/mindwatch-health/mindwatch/internal/speech"
	"github.com/mindwatch-health/mindwatch/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultUpstreamTimeout bounds a single handler's outbound work:
// model calls, speech synthesis and store writes all share it.
const DefaultUpstreamTimeout = 60 * time.Second

// DefaultShutdownTimeout bounds graceful shutdown on context cancel.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Deps carries the services the handlers delegate to. Transcriber and
// Synthesizer may be nil; the voice features degrade to text-only.
type Deps struct {
	Store       store.Store
	Engine      *interview.Engine
	Summarizer  *analysis.Summarizer
	Planner     *analysis.CrisisPlanner
	Assistant   *analysis.Assistant
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Alerts      *alerting.Service
}

// Server wires the HTTP surface to the backing services.
type Server struct {
	addr        string
	st          store.Store
	engine      *interview.Engine
	summarizer  *analysis.Summarizer
	planner     *analysis.CrisisPlanner
	assistant   *analysis.Assistant
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	alerts      *alerting.Service
}

// NewServer creates an API server from the given dependencies and options.
func NewServer(deps Deps, options ...Option) *Server {
	opts := Opts{Addr: DefaultAddr}
	for _, opt := range options {
		opt(&opts)
	}
	return &Server{
		addr:        opts.Addr,
		st:          deps.Store,
		engine:      deps.Engine,
		summarizer:  deps.Summarizer,
		planner:     deps.Planner,
		assistant:   deps.Assistant,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		alerts:      deps.Alerts,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.healthHandler)
	mux.HandleFunc("POST /assessment", s.assessmentHandler)
	mux.HandleFunc("GET /fetch-patient-data/{collection}", s.fetchPatientDataHandler)
	mux.HandleFunc("GET /get-user/{user_id}", s.getUserHandler)
	mux.HandleFunc("POST /alert_status", s.alertStatusHandler)
	mux.HandleFunc("POST /api/health-metrics/{metric_type}", s.healthMetricsHandler)
	mux.HandleFunc("POST /api/upload-patient-data", s.uploadPatientDataHandler)
	mux.HandleFunc("POST /chat", s.chatHandler)
	mux.HandleFunc("POST /api/crisis-plan", s.crisisPlanHandler)
	return mux
}

// Run serves the API until the context is canceled or the listener
// fails.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: MindWatch API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		slog.Info("Server.Run: shut down cleanly")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
