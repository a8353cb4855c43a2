// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package csvfetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/traditionalchinese"
)

const enrolmentCSV = "District,All Grades,P1,P2,P3,P4,P5,P6\n" +
	"All Districts,325564,52071,53353,53371,54747,54591,57431\n" +
	"Central and Western,12000,2000,2000,2000,2000,2000,2000\n"

func serveBody(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchParsesHeaderKeyedRecords(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, []byte(enrolmentCSV))

	records, err := New().Fetch(context.Background(), srv.URL+"/tab0307_en.csv", "utf-8")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"District", "All Grades", "P1", "P2", "P3", "P4", "P5", "P6"}, records[0].Keys())
	district, ok := records[0].Get("District")
	require.True(t, ok)
	assert.Equal(t, "All Districts", district)
	total, _ := records[0].Get("All Grades")
	assert.Equal(t, "325564", total)
	name, _ := records[1].Get("District")
	assert.Equal(t, "Central and Western", name)
}

func TestFetchRecordCountMatchesBodyLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "header only", body: "District,All Grades,P1\n", want: 0},
		{name: "empty body", body: "", want: 0},
		{name: "one row", body: "District,All Grades,P1\nAll Districts,325564,52071\n", want: 1},
		{name: "no trailing newline", body: "a,b\n1,2\n3,4", want: 2},
		{name: "crlf", body: "a,b\r\n1,2\r\n3,4\r\n", want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serveBody(t, []byte(tt.body))
			records, err := New().Fetch(context.Background(), srv.URL, "utf-8")
			require.NoError(t, err)
			require.NotNil(t, records)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestFetchKeepsCellsVerbatim(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, []byte("District,Note\n\"Sha Tin, N.T.\", 007 \n"))

	records, err := New().Fetch(context.Background(), srv.URL, "utf-8")
	require.NoError(t, err)
	require.Len(t, records, 1)

	district, _ := records[0].Get("District")
	assert.Equal(t, "Sha Tin, N.T.", district)
	note, _ := records[0].Get("Note")
	assert.Equal(t, " 007 ", note)
}

func TestFetchRaggedRows(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, []byte("a,b,c\n1\n1,2,3,4\n"))

	records, err := New().Fetch(context.Background(), srv.URL, "utf-8")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"a", "b", "c"}, records[0].Keys())
	b, _ := records[0].Get("b")
	assert.Equal(t, "", b)
	assert.Equal(t, []string{"a", "b", "c"}, records[1].Keys())
	c, _ := records[1].Get("c")
	assert.Equal(t, "3", c)
}

func TestFetchStripsUTF8BOM(t *testing.T) {
	t.Parallel()

	srv := serveBody(t, []byte("\xef\xbb\xbfDistrict,P1\nWan Chai,800\n"))

	records, err := New().Fetch(context.Background(), srv.URL, "utf-8")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"District", "P1"}, records[0].Keys())
}

func TestFetchDecodesLegacyEncoding(t *testing.T) {
	t.Parallel()

	encoded, err := traditionalchinese.Big5.NewEncoder().Bytes([]byte("地區,小一\n灣仔,800\n"))
	require.NoError(t, err)
	srv := serveBody(t, encoded)

	records, err := New().Fetch(context.Background(), srv.URL, "big5")
	require.NoError(t, err)
	require.Len(t, records, 1)
	v, ok := records[0].Get("地區")
	require.True(t, ok)
	assert.Equal(t, "灣仔", v)
}

func TestFetchErrors(t *testing.T) {
	t.Parallel()

	t.Run("non-success status", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := New().Fetch(context.Background(), srv.URL, "utf-8")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrHTTPStatus)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("network failure", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New().Fetch(context.Background(), url, "utf-8")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetching")
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		t.Parallel()
		srv := serveBody(t, []byte("a,b\n\xff\xfe,1\n"))

		_, err := New().Fetch(context.Background(), srv.URL, "utf-8")
		assert.ErrorIs(t, err, ErrDecode)
	})

	t.Run("unknown encoding", func(t *testing.T) {
		t.Parallel()
		_, err := New().Fetch(context.Background(), "http://127.0.0.1:1/", "no-such-charset")
		assert.ErrorIs(t, err, ErrUnknownEncoding)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		srv := serveBody(t, []byte(enrolmentCSV))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := New().Fetch(ctx, srv.URL, "utf-8")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type stubDoer struct {
	calls int
	err   error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls++
	return nil, d.err
}

func TestFetchUsesInjectedClient(t *testing.T) {
	t.Parallel()

	doer := &stubDoer{err: errors.New("dial refused")}
	_, err := New(WithClient(doer)).Fetch(context.Background(), "http://example.invalid/x.csv", "utf-8")
	require.Error(t, err)
	assert.Equal(t, 1, doer.calls)
	assert.Contains(t, err.Error(), "dial refused")
}

func TestFetchCompressedPayloads(t *testing.T) {
	t.Parallel()

	gzBody := func() []byte {
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		_, _ = w.Write([]byte(enrolmentCSV))
		_ = w.Close()
		return buf.Bytes()
	}
	zstdBody := func() []byte {
		var buf bytes.Buffer
		w, _ := zstd.NewWriter(&buf)
		_, _ = w.Write([]byte(enrolmentCSV))
		_ = w.Close()
		return buf.Bytes()
	}
	xzBody := func() []byte {
		var buf bytes.Buffer
		w, _ := xz.NewWriter(&buf)
		_, _ = w.Write([]byte(enrolmentCSV))
		_ = w.Close()
		return buf.Bytes()
	}

	tests := []struct {
		name string
		path string
		body []byte
	}{
		{name: "gzip", path: "/tab0307_en.csv.gz", body: gzBody()},
		{name: "zstd", path: "/tab0307_en.csv.zst", body: zstdBody()},
		{name: "xz", path: "/tab0307_en.csv.xz", body: xzBody()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			records, err := New().Fetch(context.Background(), srv.URL+tt.path, "utf-8")
			require.NoError(t, err)
			assert.Len(t, records, 2)
		})
	}
}

func TestDetectCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		encoding string
		want     Compression
	}{
		{url: "http://x/a.csv", want: CompressionNone},
		{url: "http://x/a.csv.gz", want: CompressionGZ},
		{url: "http://x/a.CSV.ZST", want: CompressionZSTD},
		{url: "http://x/a.csv.xz?v=1", want: CompressionXZ},
		{url: "http://x/a.csv", encoding: "gzip", want: CompressionGZ},
		{url: "http://x/a.csv", encoding: "zstd", want: CompressionZSTD},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectCompression(tt.url, tt.encoding), tt.url)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	records, err := Parse(strings.NewReader("District,All Grades,P1\nAll Districts,325564,52071\n"), "utf-8")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, map[string]string{"District": "All Districts", "All Grades": "325564", "P1": "52071"}, records[0].Map())
}
