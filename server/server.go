// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the enrolment tool with its hosts and runs the
// configured protocol over stdio or HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hkopenai/hk-education-server/config"
	"github.com/hkopenai/hk-education-server/enrolment"
	"github.com/hkopenai/hk-education-server/logging"
	"github.com/hkopenai/hk-education-server/mcphost"
	"github.com/hkopenai/hk-education-server/toolhost"
	hostotel "github.com/hkopenai/hk-education-server/toolhost/otel"
	"github.com/hkopenai/hk-education-server/tools"
)

// Name is announced to MCP clients and used as the Arrow service name.
const Name = "HK OpenAI education Server"

// Version is set at build time with -ldflags.
var Version = "dev"

// Option customizes server assembly.
type Option func(*options)

type options struct {
	fetcherOpts []enrolment.Option
	otel        *hostotel.OtelConfig
}

// WithFetcherOptions passes extra options to the enrolment fetcher.
func WithFetcherOptions(opts ...enrolment.Option) Option {
	return func(o *options) { o.fetcherOpts = append(o.fetcherOpts, opts...) }
}

// WithOtelConfig overrides the telemetry settings of the Arrow host.
func WithOtelConfig(cfg hostotel.OtelConfig) Option {
	return func(o *options) { o.otel = &cfg }
}

// Server owns both tool hosts and the HTTP router that exposes them.
type Server struct {
	cfg    *config.Config
	arrow  *toolhost.Server
	mcp    *mcphost.Server
	router *chi.Mux
}

// New registers every tool with both hosts. cfg must already be validated.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	fetcherOpts := append([]enrolment.Option{enrolment.WithTimeout(cfg.Fetch.Timeout)}, o.fetcherOpts...)
	fetcher := enrolment.NewFetcher(fetcherOpts...)

	arrow := toolhost.NewServer()
	arrow.SetServerID(cfg.Server.ServerID)
	arrow.SetServiceName(Name)
	if err := tools.RegisterAll(arrow, fetcher); err != nil {
		return nil, fmt.Errorf("arrow host: %w", err)
	}

	otelCfg := hostotel.DefaultConfig()
	if o.otel != nil {
		otelCfg = *o.otel
	}
	if err := hostotel.InstrumentServer(arrow, otelCfg); err != nil {
		return nil, fmt.Errorf("instrumenting arrow host: %w", err)
	}

	mcp := mcphost.New(Name, Version)
	if err := tools.RegisterAll(mcp, fetcher); err != nil {
		return nil, fmt.Errorf("mcp host: %w", err)
	}

	s := &Server{cfg: cfg, arrow: arrow, mcp: mcp}
	router, err := s.routes()
	if err != nil {
		return nil, err
	}
	s.router = router
	return s, nil
}

func (s *Server) routes() (*chi.Mux, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	vgi := toolhost.NewHttpServer(s.arrow)
	if level := s.cfg.Server.CompressionLevel; level > 0 {
		if err := vgi.SetCompressionLevel(level); err != nil {
			return nil, fmt.Errorf("arrow http compression: %w", err)
		}
	}
	r.Handle(vgi.Prefix(), vgi)
	r.Handle(vgi.Prefix()+"/*", vgi)

	mcp := s.mcp.Handler()
	r.Handle("/mcp", mcp)
	r.Handle("/mcp/*", mcp)
	return r, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Router returns the HTTP handler serving /healthz, /vgi and /mcp.
func (s *Server) Router() http.Handler {
	return s.router
}

// Arrow returns the Arrow IPC host.
func (s *Server) Arrow() *toolhost.Server {
	return s.arrow
}

// MCP returns the Model Context Protocol host.
func (s *Server) MCP() *mcphost.Server {
	return s.mcp
}

// Run serves the configured transport until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Server.Transport == config.TransportHTTP {
		ln, err := net.Listen("tcp", s.cfg.Addr())
		if err != nil {
			return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
		}
		return s.Serve(ctx, ln)
	}

	slog.Info("serving on stdio", "protocol", s.cfg.Server.Protocol)
	if s.cfg.Server.Protocol == config.ProtocolArrow {
		return s.arrow.RunStdio(ctx)
	}
	return s.mcp.RunStdio(ctx)
}

// Serve accepts HTTP connections on ln until ctx is done, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("serving on http", "addr", ln.Addr().String(), "protocol", s.cfg.Server.Protocol)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
