// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package enrolment retrieves the Education Bureau's primary-school student
// enrolment by district and grade.
//
// A fetch never fails with a Go error. Transport, status and decoding
// failures come back as an [ErrorResult] so remote callers receive a
// normally shaped value they can inspect.
package enrolment

import (
	"context"
	"time"

	"github.com/hkopenai/hk-education-server/csvfetch"
	"github.com/hkopenai/hk-education-server/logging"
)

const (
	// SourceURL is the Education Bureau CSV of primary-school enrolment by
	// district and grade.
	SourceURL = "http://www.edb.gov.hk/attachment/en/about-edb/publications-stat/figures/tab0307_en.csv"
	// SourceEncoding is the text encoding of SourceURL.
	SourceEncoding = "utf-8"
)

// Source retrieves a CSV resource as header-keyed records.
type Source interface {
	Fetch(ctx context.Context, url, encoding string) ([]csvfetch.Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, url, encoding string) ([]csvfetch.Record, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, url, encoding string) ([]csvfetch.Record, error) {
	return f(ctx, url, encoding)
}

// Fetcher produces the current enrolment dataset.
type Fetcher struct {
	source   Source
	url      string
	encoding string
	timeout  time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSource replaces the CSV source. The default is csvfetch.New().
func WithSource(s Source) Option {
	return func(f *Fetcher) { f.source = s }
}

// WithURL overrides SourceURL, for mirrors and tests.
func WithURL(url string) Option {
	return func(f *Fetcher) { f.url = url }
}

// WithTimeout bounds each fetch. Zero leaves the caller's context as is.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.timeout = d }
}

// NewFetcher creates a Fetcher for SourceURL.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		url:      SourceURL,
		encoding: SourceEncoding,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.source == nil {
		f.source = csvfetch.New()
	}
	return f
}

// Fetch downloads and parses the dataset with one request. It returns
// Records on success and ErrorResult on any failure.
func (f *Fetcher) Fetch(ctx context.Context) Result {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	logger := logging.FromContext(ctx).With("url", f.url)

	rows, err := f.source.Fetch(ctx, f.url, f.encoding)
	if err != nil {
		logger.Warn("enrolment fetch failed", "err", err)
		return NewErrorResult(err.Error())
	}

	logger.Info("enrolment fetched", "rows", len(rows))
	if rows == nil {
		return Records{}
	}
	return Records(rows)
}
