// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

const (
	arrowContentType = "application/vnd.apache.arrow.stream"

	// DefaultPrefix is the URL path the HTTP transport is served under.
	DefaultPrefix = "/vgi"

	maxRequestBytes = 1 << 20
)

// HttpServer serves tool calls over HTTP.
type HttpServer struct {
	server  *Server
	prefix  string
	mux     *http.ServeMux
	handler http.Handler
}

// NewHttpServer creates a new HTTP server wrapping a tool server, routed
// under DefaultPrefix.
func NewHttpServer(server *Server) *HttpServer {
	return NewHttpServerWithPrefix(server, DefaultPrefix)
}

// NewHttpServerWithPrefix creates a new HTTP server routed under prefix,
// which must start with "/" and not end with one.
func NewHttpServerWithPrefix(server *Server, prefix string) *HttpServer {
	h := &HttpServer{
		server: server,
		prefix: prefix,
	}
	h.mux = http.NewServeMux()
	h.mux.HandleFunc(fmt.Sprintf("POST %s/{method}", h.prefix), h.handleUnary)
	h.mux.HandleFunc(fmt.Sprintf("GET %s", h.prefix), h.handleLandingPage)
	h.mux.HandleFunc(fmt.Sprintf("GET %s/{$}", h.prefix), h.handleLandingPage)
	h.mux.HandleFunc(fmt.Sprintf("GET %s/{method}", h.prefix), h.handleNotFound)
	h.handler = h.mux
	return h
}

// Prefix returns the URL path the server is routed under.
func (h *HttpServer) Prefix() string {
	return h.prefix
}

// SetCompressionLevel enables gzip response compression at the given
// level (1-9, or -1 for the library default) for clients that accept it.
func (h *HttpServer) SetCompressionLevel(level int) error {
	wrap, err := gzhttp.NewWrapper(gzhttp.CompressionLevel(level))
	if err != nil {
		return fmt.Errorf("toolhost: compression level %d: %w", level, err)
	}
	h.handler = wrap(h.mux)
	return nil
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// handleUnary dispatches a tool call.
func (h *HttpServer) handleUnary(w http.ResponseWriter, r *http.Request) {
	method := r.PathValue("method")

	if ct := r.Header.Get("Content-Type"); ct != arrowContentType {
		h.writeHttpError(w, http.StatusUnsupportedMediaType,
			fmt.Errorf("unsupported content type: %s", ct))
		return
	}

	if method != describeMethod {
		if _, ok := h.server.tools[method]; !ok {
			h.writeHttpError(w, http.StatusNotFound,
				&RpcError{Type: errAttribute, Message: fmt.Sprintf("Unknown method: '%s'", method)})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err)
		return
	}

	req, err := ReadRequest(bytes.NewReader(body))
	if err != nil {
		h.writeHttpError(w, http.StatusBadRequest, err)
		return
	}
	defer req.Batch.Release()

	var buf bytes.Buffer
	if method == describeMethod {
		if err := h.server.writeDescribe(&buf); err != nil {
			h.writeHttpError(w, http.StatusInternalServerError, err)
			return
		}
		h.writeArrow(w, http.StatusOK, buf.Bytes())
		return
	}

	// The URL names the tool; transport details are exposed to hooks.
	req.Method = method
	req.Metadata["remote_addr"] = r.RemoteAddr
	req.Metadata["user_agent"] = r.UserAgent()
	for _, key := range []string{"traceparent", "tracestate"} {
		if v := r.Header.Get(key); v != "" {
			req.Metadata[key] = v
		}
	}

	res := h.server.dispatch(r.Context(), req)
	if err := h.server.writeResult(&buf, req, res); err != nil {
		h.writeHttpError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeArrow(w, statusFor(res.err), buf.Bytes())
}

// statusFor maps a dispatch error onto an HTTP status code.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Type {
		case errType, "ValueError":
			return http.StatusBadRequest
		case errAttribute:
			return http.StatusNotFound
		}
	}
	return http.StatusInternalServerError
}

func (h *HttpServer) writeHttpError(w http.ResponseWriter, statusCode int, err error) {
	var buf bytes.Buffer
	_ = WriteErrorResponse(&buf, emptySchema, nil, err, h.server.serverID, "", h.server.debugErrors)
	h.writeArrow(w, statusCode, buf.Bytes())
}

func (h *HttpServer) writeArrow(w http.ResponseWriter, statusCode int, data []byte) {
	w.Header().Set("Content-Type", arrowContentType)
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}
