// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package toolhost serves zero-argument tools over the vgi_rpc wire
// protocol, an Apache Arrow IPC-based RPC format.
//
// Every request and response is a complete Arrow IPC stream. Request batches
// carry the tool name, protocol version, request ID and requested client
// log level in per-batch custom metadata. A tool's return value is encoded
// as a JSON document in a one-row batch:
//
//	schema:   result: utf8
//	metadata: vgi_rpc.result_encoding = json
//
// Log batches (zero rows, vgi_rpc.log_level + vgi_rpc.log_message) may
// precede the result. Failures are reported as a single EXCEPTION-level log
// batch in place of the result.
//
// # Registration
//
// Tools are attached with [Server.Register], which makes a [Server] usable
// anywhere a registrar of name, description and operation is expected.
//
// # Transports
//
// [Server.RunStdio] and [Server.Serve] read and write IPC streams on an
// io.Reader/io.Writer pair. [HttpServer] exposes the same tools over HTTP:
//
//	POST /vgi/{tool}          call a tool
//	POST /vgi/__describe__    list registered tools
//	GET  /vgi                 landing page
//
// Request and response bodies use Content-Type
// application/vnd.apache.arrow.stream.
//
// # Client logs
//
// During a call the context carries a *slog.Logger (see
// logging.FromContext) whose records are also delivered to the caller as
// log batches, filtered by the caller's requested level.
package toolhost
