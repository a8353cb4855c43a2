// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
)

// Client calls tools on a server over an io.Reader/io.Writer pair, such as
// a subprocess's stdout and stdin. Calls are serialized.
type Client struct {
	mu       sync.Mutex
	r        io.Reader
	w        io.Writer
	logLevel LogLevel
}

// NewClient creates a client reading responses from r and writing requests
// to w.
func NewClient(r io.Reader, w io.Writer) *Client {
	return &Client{r: r, w: w}
}

// SetLogLevel sets the minimum client log level requested on each call.
// Empty leaves the choice to the server.
func (c *Client) SetLogLevel(level LogLevel) {
	c.logLevel = level
}

// Call invokes method and returns its response.
func (c *Client) Call(ctx context.Context, method string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteRequest(c.w, method, uuid.NewString(), c.logLevel); err != nil {
		return nil, err
	}
	return ReadResponse(c.r)
}

// Describe lists the server's tools.
func (c *Client) Describe(ctx context.Context) ([]ToolInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := WriteRequest(c.w, describeMethod, uuid.NewString(), ""); err != nil {
		return nil, err
	}
	return ReadDescribe(c.r)
}

// HttpClient calls tools on an HttpServer.
type HttpClient struct {
	baseURL  string
	prefix   string
	client   *http.Client
	logLevel LogLevel
}

// NewHttpClient creates a client for the server at baseURL, for example
// "http://127.0.0.1:8000". The default transport accepts gzip responses.
func NewHttpClient(baseURL string) *HttpClient {
	return &HttpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  DefaultPrefix,
		client:  &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)},
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *HttpClient) SetHTTPClient(client *http.Client) {
	c.client = client
}

// SetPrefix sets the URL path the server is routed under.
func (c *HttpClient) SetPrefix(prefix string) {
	c.prefix = prefix
}

// SetLogLevel sets the minimum client log level requested on each call.
func (c *HttpClient) SetLogLevel(level LogLevel) {
	c.logLevel = level
}

// Call invokes method and returns its response.
func (c *HttpClient) Call(ctx context.Context, method string) (*Response, error) {
	body, err := c.post(ctx, method, c.logLevel)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ReadResponse(body)
}

// Describe lists the server's tools.
func (c *HttpClient) Describe(ctx context.Context) ([]ToolInfo, error) {
	body, err := c.post(ctx, describeMethod, "")
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return ReadDescribe(body)
}

func (c *HttpClient) post(ctx context.Context, method string, level LogLevel) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, method, uuid.NewString(), level); err != nil {
		return nil, err
	}

	url := c.baseURL + c.prefix + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", arrowContentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", url, err)
	}

	// Errors are Arrow streams too; anything else is not ours to decode.
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != arrowContentType {
		resp.Body.Close()
		return nil, fmt.Errorf("calling %s: unexpected response %s (%s)", url, resp.Status, mt)
	}
	return resp.Body, nil
}
