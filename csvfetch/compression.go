// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package csvfetch

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies how a fetched payload is compressed.
type Compression int

const (
	// CompressionNone is a plain payload.
	CompressionNone Compression = iota
	// CompressionGZ is gzip (.gz).
	CompressionGZ
	// CompressionZSTD is Zstandard (.zst).
	CompressionZSTD
	// CompressionXZ is xz (.xz).
	CompressionXZ
)

func (c Compression) String() string {
	switch c {
	case CompressionGZ:
		return "gzip"
	case CompressionZSTD:
		return "zstd"
	case CompressionXZ:
		return "xz"
	default:
		return "none"
	}
}

// DetectCompression picks the compression from the URL path suffix. A
// Content-Encoding the HTTP transport did not already undo takes precedence.
func DetectCompression(rawURL, contentEncoding string) Compression {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip", "x-gzip":
		return CompressionGZ
	case "zstd":
		return CompressionZSTD
	case "xz":
		return CompressionXZ
	}

	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	path = strings.ToLower(path)
	switch {
	case strings.HasSuffix(path, ".gz"):
		return CompressionGZ
	case strings.HasSuffix(path, ".zst"):
		return CompressionZSTD
	case strings.HasSuffix(path, ".xz"):
		return CompressionXZ
	default:
		return CompressionNone
	}
}

// decompress wraps r with a decompressing reader. The returned close func
// must be called once the payload has been consumed.
func decompress(c Compression, r io.Reader) (io.Reader, func() error, error) {
	switch c {
	case CompressionNone:
		return r, func() error { return nil }, nil
	case CompressionGZ:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, gz.Close, nil
	case CompressionZSTD:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return dec, func() error {
			dec.Close()
			return nil
		}, nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return xr, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %v", c)
	}
}
