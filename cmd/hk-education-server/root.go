// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hkopenai/hk-education-server/config"
	"github.com/hkopenai/hk-education-server/logging"
	"github.com/hkopenai/hk-education-server/server"
	"github.com/hkopenai/hk-education-server/toolhost"
	hostotel "github.com/hkopenai/hk-education-server/toolhost/otel"
)

// serveFlags holds flag values; only flags the user set override the
// environment.
type serveFlags struct {
	protocol     string
	transport    string
	sse          bool
	host         string
	port         int
	logLevel     string
	logFormat    string
	fetchTimeout time.Duration
	serverID     string
	otelStdout   bool
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "hk-education-server",
		Short: "Hong Kong primary school enrolment data over MCP or Arrow RPC",
		Long: `Serves the get_student_enrolment_by_district tool, which returns
Education Bureau figures on primary school enrolment by district and grade.

Protocols:
- mcp    Model Context Protocol (default)
- arrow  Arrow IPC RPC

Transports:
- stdio  one session on stdin/stdout (default)
- http   /mcp, /vgi and /healthz on --host:--port

Every flag can also be set through the environment, e.g. HK_EDU_PROTOCOL,
TRANSPORT_MODE, HOST, PORT, LOG_LEVEL. A .env file in the working directory
is loaded when present.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.protocol, "protocol", config.ProtocolMCP, "Tool protocol (mcp, arrow)")
	f.StringVar(&flags.transport, "transport", config.TransportStdio, "Transport (stdio, http)")
	f.BoolVarP(&flags.sse, "sse", "s", false, "Serve over HTTP (same as --transport http)")
	f.StringVar(&flags.host, "host", "127.0.0.1", "Interface to bind in http mode")
	f.IntVar(&flags.port, "port", 8000, "Port to listen on in http mode")
	f.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")
	f.DurationVar(&flags.fetchTimeout, "fetch-timeout", 0, "Upstream download timeout, 0 for none")
	f.StringVar(&flags.serverID, "server-id", "", "Server identifier in Arrow responses (default random)")
	f.BoolVar(&flags.otelStdout, "otel-stdout", false, "Export traces and metrics to stderr")

	cmd.AddCommand(newCallCmd(), newVersionCmd())
	return cmd
}

// resolveConfig layers defaults, .env, environment and explicitly set flags.
func resolveConfig(cmd *cobra.Command, flags serveFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("protocol") {
		cfg.Server.Protocol = flags.protocol
	}
	if f.Changed("transport") {
		cfg.Server.Transport = flags.transport
	}
	if flags.sse {
		cfg.Server.Transport = config.TransportHTTP
	}
	if f.Changed("host") {
		cfg.Server.Host = flags.host
	}
	if f.Changed("port") {
		cfg.Server.Port = flags.port
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = flags.logLevel
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = flags.logFormat
	}
	if f.Changed("fetch-timeout") {
		cfg.Fetch.Timeout = flags.fetchTimeout
	}
	if f.Changed("server-id") && flags.serverID != "" {
		cfg.Server.ServerID = flags.serverID
	}
	if f.Changed("otel-stdout") {
		cfg.Otel.Stdout = flags.otelStdout
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logging.Setup(logOut, cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded",
		"protocol", cfg.Server.Protocol,
		"transport", cfg.Server.Transport,
		"addr", cfg.Addr(),
		"server_id", cfg.Server.ServerID,
		"fetch_timeout", cfg.Fetch.Timeout,
	)

	if cfg.Otel.Stdout {
		shutdown, err := hostotel.SetupStdout(logOut)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := shutdown(flushCtx); err != nil {
				slog.Warn("otel shutdown", "err", err)
			}
		}()
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		slog.Error("server stopped", "err", err)
		return err
	}
	return nil
}

func newCallCmd() *cobra.Command {
	var (
		baseURL  string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool on a running Arrow HTTP server and print its JSON result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := toolhost.NewHttpClient(baseURL)
			if logLevel != "" {
				client.SetLogLevel(toolhost.LogLevel(strings.ToUpper(logLevel)))
			}

			resp, err := client.Call(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, msg := range resp.Logs {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", msg.Level, msg.Message)
			}

			var out bytes.Buffer
			if err := json.Indent(&out, resp.Result, "", "  "); err != nil {
				return fmt.Errorf("decoding result: %w", err)
			}
			out.WriteByte('\n')
			_, err = out.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8000", "Base URL of the server")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Request server logs at this level (INFO, DEBUG, ...)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hk-education-server %s\n", server.Version)
		},
	}
}
