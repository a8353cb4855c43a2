// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkopenai/hk-education-server/config"
	"github.com/hkopenai/hk-education-server/enrolment"
	"github.com/hkopenai/hk-education-server/toolhost"
	"github.com/hkopenai/hk-education-server/tools"
)

const (
	csvBody  = "District,All Grades,P1\nAll Districts,325564,52071\n"
	wantJSON = `[{"District":"All Districts","All Grades":"325564","P1":"52071"}]`
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Protocol:        config.ProtocolMCP,
			Transport:       config.TransportHTTP,
			Host:            "127.0.0.1",
			Port:            8000,
			ServerID:        "server-test",
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: config.LoggingConfig{Level: "info", Format: "text"},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, csvBody)
	}))
	t.Cleanup(upstream.Close)

	s, err := New(testConfig(), WithFetcherOptions(enrolment.WithURL(upstream.URL)))
	require.NoError(t, err)
	return s
}

func TestNewRegistersToolOnBothHosts(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	require.Len(t, s.Arrow().Tools(), 1)
	assert.Equal(t, tools.EnrolmentToolName, s.Arrow().Tools()[0].Name)
	assert.Equal(t, tools.EnrolmentToolDescription, s.Arrow().Tools()[0].Description)
	assert.Equal(t, "server-test", s.Arrow().ServerID())
	assert.Equal(t, Name, s.Arrow().ServiceName())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(newTestServer(t).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestArrowOverHTTP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(newTestServer(t).Router())
	defer ts.Close()

	client := toolhost.NewHttpClient(ts.URL)
	resp, err := client.Call(context.Background(), tools.EnrolmentToolName)
	require.NoError(t, err)
	assert.JSONEq(t, wantJSON, string(resp.Result))
	assert.Equal(t, "server-test", resp.ServerID)

	infos, err := client.Describe(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, tools.EnrolmentToolName, infos[0].Name)
}

func TestArrowLandingPage(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(newTestServer(t).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/vgi")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), tools.EnrolmentToolName)
}

func TestMCPOverHTTP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(newTestServer(t).Router())
	defer ts.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "server-test", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: tools.EnrolmentToolName, Arguments: map[string]any{}})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.JSONEq(t, wantJSON, text.Text)
}

func TestUpstreamFailureIsErrorResult(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer upstream.Close()

	s, err := New(testConfig(), WithFetcherOptions(enrolment.WithURL(upstream.URL)))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := toolhost.NewHttpClient(ts.URL).Call(context.Background(), tools.EnrolmentToolName)
	require.NoError(t, err)
	assert.Contains(t, string(resp.Result), `"type":"Error"`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
