// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package config loads server settings from the environment with defaults.
// Command-line flags are applied on top by the caller before Validate.
package config

import "time"

// Protocols the server can speak.
const (
	ProtocolMCP   = "mcp"
	ProtocolArrow = "arrow"
)

// Transports the server can listen on.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds all server configuration.
type Config struct {
	Server  ServerConfig
	Fetch   FetchConfig
	Logging LoggingConfig
	Otel    OtelConfig
}

// ServerConfig selects how tools are hosted.
type ServerConfig struct {
	// Protocol is "mcp" or "arrow" (default: mcp)
	Protocol string `env:"HK_EDU_PROTOCOL" default:"mcp"`

	// Transport is "stdio" or "http" (default: stdio)
	Transport string `env:"TRANSPORT_MODE" default:"stdio"`

	// Host is the interface to bind to in http mode (default: 127.0.0.1)
	Host string `env:"HOST" default:"127.0.0.1"`

	// Port is the port to listen on in http mode (default: 8000)
	Port int `env:"PORT" default:"8000"`

	// ServerID identifies this process in Arrow responses (default: random UUID)
	ServerID string `env:"SERVER_ID"`

	// CompressionLevel gzips Arrow HTTP responses when positive (default: 0)
	CompressionLevel int `env:"HTTP_COMPRESSION_LEVEL" default:"0"`

	// ShutdownTimeout bounds graceful HTTP shutdown (default: 10s)
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// FetchConfig controls the upstream CSV download.
type FetchConfig struct {
	// Timeout for a single download; 0 disables it (default: 0)
	Timeout time.Duration `env:"FETCH_TIMEOUT" default:"0s"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// OtelConfig toggles telemetry export.
type OtelConfig struct {
	// Stdout exports traces and metrics to stderr (default: false)
	Stdout bool `env:"OTEL_STDOUT" default:"false"`
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return joinHostPort(c.Server.Host, c.Server.Port)
}
