// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// CallContext provides request-scoped information and client logging to a
// running tool.
type CallContext struct {
	// RequestID is the client-supplied identifier for this request, echoed in
	// all response metadata.
	RequestID string
	// ServerID is the server identifier set via [Server.SetServerID].
	ServerID string
	// Method is the name of the tool being invoked.
	Method string
	// LogLevel is the client-requested minimum log severity. Messages below
	// this level are discarded by [CallContext.ClientLog].
	LogLevel LogLevel

	mu   sync.Mutex
	logs []LogMessage
}

type callContextKey struct{}

// CallFromContext returns the CallContext of the tool call running on ctx.
func CallFromContext(ctx context.Context) (*CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*CallContext)
	return cc, ok
}

func withCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

func (cc *CallContext) accepts(level LogLevel) bool {
	return logLevelPriority(level) <= logLevelPriority(cc.LogLevel)
}

// ClientLog records a log message that will be sent to the client.
// The message is only recorded if its level is at or above the
// client-requested log level.
func (cc *CallContext) ClientLog(level LogLevel, msg string, extras ...KV) {
	if !cc.accepts(level) {
		return
	}
	logMsg := LogMessage{
		Level:   level,
		Message: msg,
	}
	if len(extras) > 0 {
		logMsg.Extras = make(map[string]string, len(extras))
		for _, kv := range extras {
			logMsg.Extras[kv.Key] = kv.Value
		}
	}
	cc.mu.Lock()
	cc.logs = append(cc.logs, logMsg)
	cc.mu.Unlock()
}

// drainLogs returns and clears all accumulated log messages.
func (cc *CallContext) drainLogs() []LogMessage {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	logs := cc.logs
	cc.logs = nil
	return logs
}

// clientLogHandler forwards records to base and copies them to the call's
// client log.
type clientLogHandler struct {
	base   slog.Handler
	call   *CallContext
	attrs  []KV
	groups []string
}

func newClientLogHandler(base slog.Handler, call *CallContext) *clientLogHandler {
	return &clientLogHandler{base: base, call: call}
}

func (h *clientLogHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.base.Enabled(ctx, l) || h.call.accepts(levelFromSlog(l))
}

func (h *clientLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.base.Enabled(ctx, r.Level) {
		err = h.base.Handle(ctx, r)
	}

	level := levelFromSlog(r.Level)
	if !h.call.accepts(level) {
		return err
	}
	extras := make([]KV, 0, len(h.attrs)+r.NumAttrs())
	extras = append(extras, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		extras = append(extras, KV{Key: h.key(a.Key), Value: a.Value.String()})
		return true
	})
	h.call.ClientLog(level, r.Message, extras...)
	return err
}

func (h *clientLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.base = h.base.WithAttrs(attrs)
	next.attrs = append([]KV(nil), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, KV{Key: h.key(a.Key), Value: a.Value.String()})
	}
	return &next
}

func (h *clientLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.base = h.base.WithGroup(name)
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func (h *clientLogHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}
