// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package csvfetch downloads a CSV document over HTTP and parses it into
// header-keyed records.
//
// Every failure (network, non-2xx status, decompression, text decoding, CSV
// syntax) is returned as an error; callers that expose results remotely
// surface the error's message verbatim.
package csvfetch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

var (
	// ErrHTTPStatus reports a non-2xx upstream response.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
	// ErrUnknownEncoding reports an encoding name htmlindex does not know.
	ErrUnknownEncoding = errors.New("unknown text encoding")
	// ErrDecode reports bytes that are not valid in the requested encoding.
	ErrDecode = errors.New("invalid encoded text")
)

const utf8BOM = "\ufeff"

// Doer is the subset of *http.Client used to issue requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves and parses CSV resources.
type Fetcher struct {
	client    Doer
	userAgent string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient replaces the HTTP client.
func WithClient(c Doer) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// New creates a Fetcher. The default client negotiates compressed transfer
// through gzhttp and has no timeout of its own; bound calls with the context.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)},
		userAgent: "hk-education-server",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var defaultFetcher = New()

// Fetch retrieves url with the default Fetcher.
func Fetch(ctx context.Context, url, encodingName string) ([]Record, error) {
	return defaultFetcher.Fetch(ctx, url, encodingName)
}

// Fetch issues one GET for url, decodes the body with the named encoding and
// parses it as CSV with the first row as header.
func (f *Fetcher) Fetch(ctx context.Context, url, encodingName string) ([]Record, error) {
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: %w: %s", url, ErrHTTPStatus, resp.Status)
	}

	body, closeBody, err := decompress(DetectCompression(url, resp.Header.Get("Content-Encoding")), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer closeBody()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}

	records, err := parse(raw, enc)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}
	return records, nil
}

// Parse decodes r with the named encoding and parses it as CSV.
func Parse(r io.Reader, encodingName string) ([]Record, error) {
	enc, err := lookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parse(raw, enc)
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}

func parse(raw []byte, enc encoding.Encoding) ([]Record, error) {
	var text []byte
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		// x/text substitutes U+FFFD for invalid UTF-8; reject it instead.
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%w: body is not valid utf-8", ErrDecode)
		}
		text = raw
	} else {
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		text = decoded
	}
	text = bytes.TrimPrefix(text, []byte(utf8BOM))

	return readRecords(csv.NewReader(bytes.NewReader(text)))
}

// readRecords reads the header and every data row. Short rows are padded with
// empty strings; cells beyond the header width are dropped.
func readRecords(cr *csv.Reader) ([]Record, error) {
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	header = append([]string(nil), header...)

	records := []Record{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := Record{fields: make([]Field, 0, len(header))}
		for i, name := range header {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			rec.set(name, value)
		}
		records = append(records, rec)
	}
	return records, nil
}
