// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package mcphost exposes registered tools over the Model Context Protocol.
// Each tool takes no arguments and answers tools/call with a single text
// content item holding its JSON-encoded result.
package mcphost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hkopenai/hk-education-server/logging"
)

// Operation is a zero-argument tool body.
type Operation = func(ctx context.Context) (any, error)

// Server is an MCP server with a name/description/operation registration
// surface.
type Server struct {
	mcp *mcp.Server

	mu    sync.Mutex
	names map[string]struct{}
}

// New creates a server announcing itself as name at version.
func New(name, version string) *Server {
	return &Server{
		mcp:   mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		names: make(map[string]struct{}),
	}
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Register exposes op as an MCP tool. Tool names must be unique.
func (s *Server) Register(name, description string, op Operation) error {
	switch {
	case name == "":
		return errors.New("mcphost: tool name must not be empty")
	case op == nil:
		return fmt.Errorf("mcphost: tool %q has a nil operation", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.names[name]; exists {
		return fmt.Errorf("mcphost: tool %q already registered", name)
	}
	s.names[name] = struct{}{}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: description},
		func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
			return call(ctx, name, op), nil, nil
		})
	return nil
}

// call runs op and packs its outcome into a tool result. Operation errors
// and panics become error results rather than protocol errors.
func call(ctx context.Context, name string, op Operation) (res *mcp.CallToolResult) {
	logger := logging.FromContext(ctx).With("tool", name)
	defer func() {
		if rv := recover(); rv != nil {
			logger.Error("tool panicked", "panic", rv)
			res = errorResult(fmt.Sprintf("panic in %s: %v", name, rv))
		}
	}()

	value, err := op(logging.WithLogger(ctx, logger))
	if err != nil {
		logger.Warn("tool failed", "err", err)
		return errorResult(err.Error())
	}

	doc, err := json.Marshal(value)
	if err != nil {
		logger.Error("tool result not encodable", "err", err)
		return errorResult(fmt.Sprintf("result serialization: %v", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(doc)}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}

// RunStdio serves a single session on stdin/stdout until the client
// disconnects or ctx is done.
func (s *Server) RunStdio(ctx context.Context) error {
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Handler returns the streamable HTTP transport for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}
