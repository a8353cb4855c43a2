// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientLogHandlerTeesRecords(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	cc := &CallContext{LogLevel: LogDebug}
	logger := slog.New(newClientLogHandler(base, cc))

	logger.With("url", "http://example.test").WithGroup("fetch").Info("done", "rows", 2)
	logger.Warn("slow")
	logger.Log(context.Background(), slog.LevelDebug-4, "trace detail")

	logs := cc.drainLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, LogInfo, logs[0].Level)
	assert.Equal(t, map[string]string{"url": "http://example.test", "fetch.rows": "2"}, logs[0].Extras)
	assert.Equal(t, LogWarn, logs[1].Level)

	// The server-side handler keeps its own threshold.
	assert.NotContains(t, buf.String(), "done")
	assert.Contains(t, buf.String(), "slow")

	assert.Empty(t, cc.drainLogs())
}

func TestClientLogFiltersByRequestedLevel(t *testing.T) {
	t.Parallel()

	cc := &CallContext{LogLevel: LogWarn}
	cc.ClientLog(LogInfo, "ignored")
	cc.ClientLog(LogError, "kept", KV{Key: "k", Value: "v"})

	logs := cc.drainLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, LogMessage{Level: LogError, Message: "kept", Extras: map[string]string{"k": "v"}}, logs[0])
}

func TestCallFromContext(t *testing.T) {
	t.Parallel()

	_, ok := CallFromContext(context.Background())
	assert.False(t, ok)

	cc := &CallContext{Method: "rows"}
	got, ok := CallFromContext(withCallContext(context.Background(), cc))
	require.True(t, ok)
	assert.Same(t, cc, got)
}

func TestLevelFromSlog(t *testing.T) {
	t.Parallel()

	assert.Equal(t, LogError, levelFromSlog(slog.LevelError+2))
	assert.Equal(t, LogWarn, levelFromSlog(slog.LevelWarn))
	assert.Equal(t, LogInfo, levelFromSlog(slog.LevelInfo))
	assert.Equal(t, LogDebug, levelFromSlog(slog.LevelDebug))
	assert.Equal(t, LogTrace, levelFromSlog(slog.LevelDebug-4))
}
