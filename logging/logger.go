// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package logging configures log/slog for the server and carries
// request-scoped loggers through context.
//
// Output always goes to the writer passed to Setup (stderr in the binary):
// on the stdio transport stdout belongs to the protocol stream.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type loggerKey struct{}

// Setup installs the default slog logger.
//
// Level values: "debug", "info", "warn", "error" (default: "info").
// Format values: "text", "json" (default: "text").
func Setup(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type storedLogger struct {
	logger *slog.Logger
	reqID  string
}

// WithLogger returns a copy of ctx carrying logger. The logger is taken to
// already include any request ID ctx carries at this point.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, storedLogger{logger: logger, reqID: middleware.GetReqID(ctx)})
}

// FromContext returns the logger stored in ctx, or the default logger.
// When ctx carries a chi request ID the logger includes it as request_id.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	tagged := ""
	if stored, ok := ctx.Value(loggerKey{}).(storedLogger); ok && stored.logger != nil {
		logger, tagged = stored.logger, stored.reqID
	}

	if reqID := middleware.GetReqID(ctx); reqID != "" && reqID != tagged {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// Middleware logs each request once it completes. It expects chi's
// RequestID middleware to run first so entries carry request_id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// WrapResponseWriter keeps http.Flusher, which streamed MCP responses need.
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		FromContext(r.Context()).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)
	})
}
