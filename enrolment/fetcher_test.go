// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enrolment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkopenai/hk-education-server/csvfetch"
)

func upstream(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func encode(t *testing.T, r Result) string {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return string(data)
}

func TestFetchScenarioSingleRow(t *testing.T) {
	t.Parallel()

	srv := upstream(t, "District,All Grades,P1\nAll Districts,325564,52071\n")
	f := NewFetcher(WithURL(srv.URL))

	res := f.Fetch(context.Background())

	records, ok := res.(Records)
	require.True(t, ok, "expected Records, got %T", res)
	require.Len(t, records, 1)
	assert.Equal(t, `[{"District":"All Districts","All Grades":"325564","P1":"52071"}]`, encode(t, res))
}

func TestFetchHeaderOnlyIsEmptyArray(t *testing.T) {
	t.Parallel()

	srv := upstream(t, "District,All Grades,P1\n")
	res := NewFetcher(WithURL(srv.URL)).Fetch(context.Background())

	records, ok := res.(Records)
	require.True(t, ok)
	assert.Empty(t, records)
	assert.Equal(t, `[]`, encode(t, res))
}

func TestFetchEmptyBodyIsEmptyArray(t *testing.T) {
	t.Parallel()

	srv := upstream(t, "")
	res := NewFetcher(WithURL(srv.URL)).Fetch(context.Background())
	assert.Equal(t, `[]`, encode(t, res))
}

func TestFetchSourceErrorBecomesErrorResult(t *testing.T) {
	t.Parallel()

	src := SourceFunc(func(ctx context.Context, url, encoding string) ([]csvfetch.Record, error) {
		return nil, errors.New("CSV fetch failed")
	})

	res := NewFetcher(WithSource(src)).Fetch(context.Background())

	assert.Equal(t, NewErrorResult("CSV fetch failed"), res)
	assert.Equal(t, `{"type":"Error","error":"CSV fetch failed"}`, encode(t, res))
}

func TestFetchUpstreamStatusBecomesErrorResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := NewFetcher(WithURL(srv.URL)).Fetch(context.Background())

	errRes, ok := res.(ErrorResult)
	require.True(t, ok, "expected ErrorResult, got %T", res)
	assert.Equal(t, ErrorType, errRes.Type)
	assert.Contains(t, errRes.Message, "503")
}

func TestFetchPassesFixedURLAndEncoding(t *testing.T) {
	t.Parallel()

	var gotURL, gotEncoding string
	src := SourceFunc(func(ctx context.Context, url, encoding string) ([]csvfetch.Record, error) {
		gotURL, gotEncoding = url, encoding
		return nil, nil
	})

	res := NewFetcher(WithSource(src)).Fetch(context.Background())

	assert.Equal(t, SourceURL, gotURL)
	assert.Equal(t, SourceEncoding, gotEncoding)
	assert.Equal(t, `[]`, encode(t, res))
}

func TestFetchIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := upstream(t, "District,All Grades,P1,P2\nAll Districts,325564,52071,53353\nWan Chai,1550,800,750\n")
	f := NewFetcher(WithURL(srv.URL))

	first := f.Fetch(context.Background())
	second := f.Fetch(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, encode(t, first), encode(t, second))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	src := SourceFunc(func(ctx context.Context, url, encoding string) ([]csvfetch.Record, error) {
		_, ok := ctx.Deadline()
		if !ok {
			return nil, errors.New("no deadline")
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res := NewFetcher(WithSource(src), WithTimeout(10*time.Millisecond)).Fetch(context.Background())

	errRes, ok := res.(ErrorResult)
	require.True(t, ok)
	assert.Equal(t, context.DeadlineExceeded.Error(), errRes.Message)
}

func TestFetchLive(t *testing.T) {
	if os.Getenv("RUN_LIVE_TESTS") != "true" {
		t.Skip("Set RUN_LIVE_TESTS=true to run live tests")
	}

	res := NewFetcher(WithTimeout(30 * time.Second)).Fetch(context.Background())
	records, ok := res.(Records)
	require.True(t, ok, "live fetch returned %s", encode(t, res))
	require.NotEmpty(t, records)
	_, ok = records[0].Get("District")
	assert.True(t, ok)
}
