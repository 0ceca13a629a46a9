package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadflowhq/leadflow/internal/engine"
	"github.com/leadflowhq/leadflow/internal/store"
)

// Default server configuration.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
)

// Opts holds configuration options for the admin API server.
type Opts struct {
	Addr     string
	FlowPath string       // flow definition file, reloaded by POST /flow/reload
	Webhook  http.Handler // optional inbound webhook (e.g. Twilio), mounted at /webhook
}

// Option defines a configuration option for the admin API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFlowPath sets the flow definition path used by the reload endpoint.
func WithFlowPath(path string) Option {
	return func(o *Opts) { o.FlowPath = path }
}

// WithWebhook mounts an inbound webhook handler at /webhook.
func WithWebhook(h http.Handler) Option {
	return func(o *Opts) { o.Webhook = h }
}

// Server is the admin API server exposing lead inspection and flow
// management endpoints.
type Server struct {
	cfg     Opts
	leads   store.LeadStore
	eng     *engine.Engine
	httpSrv *http.Server
}

// NewServer creates the admin API server over the given lead store and
// engine.
func NewServer(leads store.LeadStore, eng *engine.Engine, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{cfg: cfg, leads: leads, eng: eng}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /leads", s.leadsHandler)
	mux.HandleFunc("GET /leads/{id}", s.leadHandler)
	mux.HandleFunc("DELETE /leads/{id}", s.deleteLeadHandler)
	mux.HandleFunc("POST /flow/reload", s.reloadFlowHandler)
	if s.cfg.Webhook != nil {
		mux.Handle("POST /webhook", s.cfg.Webhook)
	}
	return mux
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Admin API listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("admin API server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin API shutdown failed: %w", err)
		}
		slog.Info("Admin API stopped")
		return nil
	}
}
