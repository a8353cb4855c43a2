// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/apache/arrow-go/v18/arrow"
	json "github.com/goccy/go-json"

	"github.com/hkopenai/hk-education-server/logging"
)

// Operation is a zero-argument tool body. The returned value is encoded as
// the JSON result document.
type Operation = func(ctx context.Context) (any, error)

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

type toolEntry struct {
	ToolInfo
	op Operation
}

// Server dispatches incoming requests to registered tools.
type Server struct {
	tools        map[string]*toolEntry
	serverID     string
	serviceName  string
	dispatchHook DispatchHook
	debugErrors  bool
}

// NewServer creates a new tool server.
func NewServer() *Server {
	return &Server{
		tools: make(map[string]*toolEntry),
	}
}

// SetServerID sets a server identifier included in response metadata.
func (s *Server) SetServerID(id string) {
	s.serverID = id
}

// ServerID returns the identifier set via SetServerID.
func (s *Server) ServerID() string {
	return s.serverID
}

// SetServiceName sets a logical service name used by observability hooks.
func (s *Server) SetServiceName(name string) {
	s.serviceName = name
}

// ServiceName returns the logical service name, or empty string if not set.
func (s *Server) ServiceName() string {
	return s.serviceName
}

// SetDispatchHook registers a hook that is called around each tool dispatch.
func (s *Server) SetDispatchHook(hook DispatchHook) {
	s.dispatchHook = hook
}

// SetDebugErrors controls whether error responses include stack traces.
// Leave it off for public-facing deployments.
func (s *Server) SetDebugErrors(enabled bool) {
	s.debugErrors = enabled
}

// Register exposes op under name. Names must be unique and must not collide
// with the __describe__ introspection method. Register must not be called
// once the server is serving.
func (s *Server) Register(name, description string, op Operation) error {
	switch {
	case name == "":
		return errors.New("toolhost: tool name must not be empty")
	case name == describeMethod:
		return fmt.Errorf("toolhost: %q is reserved", name)
	case op == nil:
		return fmt.Errorf("toolhost: tool %q has a nil operation", name)
	}
	if _, exists := s.tools[name]; exists {
		return fmt.Errorf("toolhost: tool %q already registered", name)
	}
	s.tools[name] = &toolEntry{
		ToolInfo: ToolInfo{Name: name, Description: description},
		op:       op,
	}
	return nil
}

// Tools lists the registered tools sorted by name.
func (s *Server) Tools() []ToolInfo {
	out := make([]ToolInfo, 0, len(s.tools))
	for _, name := range s.availableMethods() {
		out = append(out, s.tools[name].ToolInfo)
	}
	return out
}

// RunStdio serves requests from stdin to stdout until stdin is closed or
// ctx is done.
func (s *Server) RunStdio(ctx context.Context) error {
	// Writes to a closed pipe must surface as errors, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		slog.Warn("this process speaks Arrow IPC on stdin/stdout and is meant to be launched by an RPC client")
	}

	done := make(chan error, 1)
	go func() {
		done <- s.ServeWithContext(ctx, os.Stdin, os.Stdout)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the server loop on the given reader/writer pair.
func (s *Server) Serve(r io.Reader, w io.Writer) {
	_ = s.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the server loop on the given reader/writer pair until
// the reader is exhausted, the transport fails or ctx is done. A normally
// closed transport returns nil.
func (s *Server) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) error {
	for ctx.Err() == nil {
		err := s.serveOne(ctx, r, w)
		if err == nil {
			continue
		}
		if isTransportClosed(err) {
			return nil
		}
		slog.Error("serve loop error", "err", err)
		return err
	}
	return nil
}

// serveOne handles one complete request-response cycle.
func (s *Server) serveOne(ctx context.Context, r io.Reader, w io.Writer) error {
	req, err := ReadRequest(r)
	if err != nil {
		var rpcErr *RpcError
		if errors.As(err, &rpcErr) {
			_ = WriteErrorResponse(w, emptySchema, nil, rpcErr, s.serverID, "", s.debugErrors)
			return nil
		}
		return err
	}
	defer req.Batch.Release()

	if req.Method == describeMethod {
		return s.writeDescribe(w)
	}

	res := s.dispatch(ctx, req)
	return s.writeResult(w, req, res)
}

// callResult is the outcome of one dispatch. Exactly one of batch and err
// is set.
type callResult struct {
	schema *arrow.Schema
	logs   []LogMessage
	batch  arrow.RecordBatch
	err    error
}

func (r *callResult) release() {
	if r.batch != nil {
		r.batch.Release()
	}
}

func (s *Server) writeResult(w io.Writer, req *Request, res *callResult) error {
	defer res.release()
	if res.err != nil {
		return WriteErrorResponse(w, res.schema, res.logs, res.err, s.serverID, req.RequestID, s.debugErrors)
	}
	return WriteResultResponse(w, res.logs, res.batch, s.serverID, req.RequestID)
}

// dispatch runs the requested tool with hooks, client logging and panic
// recovery.
func (s *Server) dispatch(ctx context.Context, req *Request) *callResult {
	entry, ok := s.tools[req.Method]
	if !ok {
		return &callResult{
			schema: emptySchema,
			err: &RpcError{
				Type:    errAttribute,
				Message: fmt.Sprintf("Unknown method: '%s'. Available methods: %v", req.Method, s.availableMethods()),
			},
		}
	}

	info := DispatchInfo{
		Method:            req.Method,
		MethodType:        DispatchMethodUnary,
		ServerID:          s.serverID,
		RequestID:         req.RequestID,
		TransportMetadata: req.Metadata,
	}
	stats := &CallStatistics{}
	ctx, token, hookActive := s.hookStart(ctx, info)

	res := s.invoke(ctx, req, entry, stats)

	if hookActive {
		s.hookEnd(ctx, token, info, stats, res.err)
	}
	return res
}

func (s *Server) invoke(ctx context.Context, req *Request, entry *toolEntry, stats *CallStatistics) *callResult {
	res := &callResult{schema: resultSchema}

	if n := req.Batch.Schema().NumFields(); n > 0 {
		res.err = &RpcError{
			Type:    errType,
			Message: fmt.Sprintf("%s() takes no arguments (%d given)", entry.Name, n),
		}
		return res
	}
	stats.RecordInput(req.Batch.NumRows(), batchBufferSize(req.Batch))

	callCtx := &CallContext{
		RequestID: req.RequestID,
		ServerID:  s.serverID,
		Method:    req.Method,
		LogLevel:  LogLevel(req.LogLevel),
	}
	if callCtx.LogLevel == "" {
		callCtx.LogLevel = LogTrace // client filters
	}
	ctx = withCallContext(ctx, callCtx)
	logger := slog.New(newClientLogHandler(logging.FromContext(ctx).Handler(), callCtx))
	ctx = logging.WithLogger(ctx, logger)

	value, err := callOperation(ctx, entry)
	res.logs = callCtx.drainLogs()
	if err != nil {
		logger.Debug("tool failed", "method", entry.Name, "err", err)
		res.err = err
		return res
	}

	doc, err := json.Marshal(value)
	if err != nil {
		res.err = &RpcError{Type: errSerialization, Message: fmt.Sprintf("result serialization: %v", err)}
		return res
	}

	res.batch = newResultBatch(doc, s.serverID, req.RequestID)
	stats.RecordOutput(res.batch.NumRows(), batchBufferSize(res.batch))
	return res
}

// callOperation runs the tool body, converting a panic into an error.
func callOperation(ctx context.Context, entry *toolEntry) (value any, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = &RpcError{Type: errRuntime, Message: fmt.Sprintf("panic in %s: %v", entry.Name, rv)}
		}
	}()
	return entry.op(ctx)
}

// hookStart calls OnDispatchStart. A panicking hook is logged and skipped
// for the rest of the call.
func (s *Server) hookStart(ctx context.Context, info DispatchInfo) (out context.Context, token HookToken, active bool) {
	out = ctx
	if s.dispatchHook == nil {
		return out, nil, false
	}
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("dispatch hook start panic", "err", rv)
			out, token, active = ctx, nil, false
		}
	}()
	hookCtx, tok := s.dispatchHook.OnDispatchStart(ctx, info)
	if hookCtx != nil {
		out = hookCtx
	}
	return out, tok, true
}

func (s *Server) hookEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error) {
	defer func() {
		if rv := recover(); rv != nil {
			slog.Error("dispatch hook end panic", "err", rv)
		}
	}()
	s.dispatchHook.OnDispatchEnd(ctx, token, info, stats, err)
}

// isTransportClosed returns true for errors that indicate the transport was closed normally.
func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

func (s *Server) availableMethods() []string {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
