// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	json "github.com/goccy/go-json"
)

var (
	emptySchema = arrow.NewSchema(nil, nil)

	// resultSchema is the schema of every tool response stream.
	resultSchema = arrow.NewSchema([]arrow.Field{
		{Name: "result", Type: arrow.BinaryTypes.String},
	}, nil)
)

// Request represents a parsed RPC request from the wire.
type Request struct {
	Method    string
	Version   string
	RequestID string
	LogLevel  string
	Batch     arrow.RecordBatch
	Metadata  map[string]string
}

// ReadRequest reads one complete IPC stream from the reader and extracts
// the method name, version, and request metadata from the first batch.
func ReadRequest(r io.Reader) (*Request, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading request IPC stream: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if err := reader.Err(); err != nil {
			return nil, fmt.Errorf("reading request batch: %w", err)
		}
		return nil, io.EOF
	}

	batch := reader.RecordBatch()
	batch.Retain()

	// Read to EOS so the next request starts on a fresh stream, even when
	// this one is rejected.
	for reader.Next() {
	}

	meta := batchMetadata(batch)

	method, ok := meta.GetValue(MetaMethod)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    errProtocol,
			Message: "Missing 'vgi_rpc.method' in request batch custom_metadata",
		}
	}

	version, ok := meta.GetValue(MetaRequestVersion)
	if !ok {
		batch.Release()
		return nil, &RpcError{
			Type:    errVersion,
			Message: "Missing 'vgi_rpc.request_version' in request batch custom_metadata",
		}
	}
	if version != ProtocolVersion {
		batch.Release()
		return nil, &RpcError{
			Type:    errVersion,
			Message: fmt.Sprintf("Unsupported request version %q, expected %q", version, ProtocolVersion),
		}
	}

	if batch.Schema().NumFields() > 0 && batch.NumRows() != 1 {
		batch.Release()
		return nil, &RpcError{
			Type:    errProtocol,
			Message: fmt.Sprintf("Expected 1 row in request batch, got %d", batch.NumRows()),
		}
	}

	requestID, _ := meta.GetValue(MetaRequestID)
	logLevel, _ := meta.GetValue(MetaLogLevel)

	metaMap := make(map[string]string, meta.Len())
	for i := range meta.Len() {
		metaMap[meta.Keys()[i]] = meta.Values()[i]
	}

	return &Request{
		Method:    method,
		Version:   version,
		RequestID: requestID,
		LogLevel:  logLevel,
		Batch:     batch,
		Metadata:  metaMap,
	}, nil
}

// WriteRequest writes a complete request stream calling method with no
// parameters.
func WriteRequest(w io.Writer, method, requestID string, logLevel LogLevel) error {
	keys := []string{MetaMethod, MetaRequestVersion}
	vals := []string{method, ProtocolVersion}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	if logLevel != "" {
		keys = append(keys, MetaLogLevel)
		vals = append(vals, string(logLevel))
	}

	batch := emptyBatch(emptySchema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(emptySchema, batch.Columns(), 0, arrow.NewMetadata(keys, vals))
	defer batchWithMeta.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(emptySchema))
	if err := writer.Write(batchWithMeta); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing request batch: %w", err)
	}
	return writer.Close()
}

func batchMetadata(batch arrow.RecordBatch) arrow.Metadata {
	if rb, ok := batch.(arrow.RecordBatchWithMetadata); ok {
		return rb.Metadata()
	}
	return arrow.Metadata{}
}

// emptyBatch creates a zero-row batch with the given schema.
func emptyBatch(schema *arrow.Schema) arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	cols := make([]arrow.Array, schema.NumFields())
	for i, f := range schema.Fields() {
		builder := array.NewBuilder(mem, f.Type)
		cols[i] = builder.NewArray()
		builder.Release()
	}
	batch := array.NewRecordBatch(schema, cols, 0)
	for _, c := range cols {
		c.Release()
	}
	return batch
}

// responseMetadata appends the identifiers every response batch carries.
func responseMetadata(keys, vals []string, serverID, requestID string) arrow.Metadata {
	if serverID != "" {
		keys = append(keys, MetaServerID)
		vals = append(vals, serverID)
	}
	if requestID != "" {
		keys = append(keys, MetaRequestID)
		vals = append(vals, requestID)
	}
	return arrow.NewMetadata(keys, vals)
}

// newResultBatch builds the one-row result batch holding doc.
func newResultBatch(doc []byte, serverID, requestID string) arrow.RecordBatch {
	builder := array.NewStringBuilder(memory.NewGoAllocator())
	defer builder.Release()
	builder.Append(string(doc))
	col := builder.NewArray()
	defer col.Release()

	meta := responseMetadata([]string{MetaResultEncoding}, []string{ResultEncodingJSON}, serverID, requestID)
	return array.NewRecordBatchWithMetadata(resultSchema, []arrow.Array{col}, 1, meta)
}

// writeLogBatch writes a zero-row batch with log metadata.
func writeLogBatch(w *ipc.Writer, schema *arrow.Schema, msg LogMessage, serverID, requestID string) error {
	keys := []string{MetaLogLevel, MetaLogMessage}
	vals := []string{string(msg.Level), msg.Message}

	if len(msg.Extras) > 0 {
		extraJSON, err := json.Marshal(msg.Extras)
		if err != nil {
			extraJSON = []byte(`{}`)
		}
		keys = append(keys, MetaLogExtra)
		vals = append(vals, string(extraJSON))
	}

	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0,
		responseMetadata(keys, vals, serverID, requestID))
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// writeErrorBatch writes a zero-row batch with EXCEPTION-level metadata.
func writeErrorBatch(w *ipc.Writer, schema *arrow.Schema, err error, serverID, requestID string, debug bool) error {
	keys := []string{MetaLogLevel, MetaLogMessage, MetaLogExtra}
	vals := []string{string(LogException), err.Error(), buildErrorExtra(err, debug)}

	batch := emptyBatch(schema)
	defer batch.Release()

	batchWithMeta := array.NewRecordBatchWithMetadata(schema, batch.Columns(), 0,
		responseMetadata(keys, vals, serverID, requestID))
	defer batchWithMeta.Release()

	return w.Write(batchWithMeta)
}

// WriteResultResponse writes a complete IPC stream containing log batches
// followed by the result batch.
func WriteResultResponse(w io.Writer, logs []LogMessage, result arrow.RecordBatch, serverID, requestID string) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(resultSchema))
	defer writer.Close()

	for _, logMsg := range logs {
		if err := writeLogBatch(writer, resultSchema, logMsg, serverID, requestID); err != nil {
			return fmt.Errorf("writing log batch: %w", err)
		}
	}
	return writer.Write(result)
}

// WriteErrorResponse writes a complete IPC stream containing log batches
// followed by an error batch.
func WriteErrorResponse(w io.Writer, schema *arrow.Schema, logs []LogMessage, err error,
	serverID, requestID string, debug bool) error {

	writer := ipc.NewWriter(w, ipc.WithSchema(schema))
	defer writer.Close()

	for _, logMsg := range logs {
		if werr := writeLogBatch(writer, schema, logMsg, serverID, requestID); werr != nil {
			return fmt.Errorf("writing log batch: %w", werr)
		}
	}
	return writeErrorBatch(writer, schema, err, serverID, requestID, debug)
}

// Response is a decoded tool response.
type Response struct {
	// Result is the JSON document returned by the tool.
	Result   []byte
	Logs     []LogMessage
	ServerID string
}

// ReadResponse reads one complete response stream. A tool failure is
// returned as an *RpcError alongside the logs that preceded it.
func ReadResponse(r io.Reader) (*Response, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading response IPC stream: %w", err)
	}
	defer reader.Release()

	resp := &Response{}
	var callErr error
	for reader.Next() {
		batch := reader.RecordBatch()
		meta := batchMetadata(batch)
		if id, ok := meta.GetValue(MetaServerID); ok {
			resp.ServerID = id
		}

		level, isLog := meta.GetValue(MetaLogLevel)
		switch {
		case isLog && LogLevel(level) == LogException:
			msg, _ := meta.GetValue(MetaLogMessage)
			extra, _ := meta.GetValue(MetaLogExtra)
			requestID, _ := meta.GetValue(MetaRequestID)
			callErr = errorFromExtra(msg, extra, requestID)
		case isLog:
			msg, _ := meta.GetValue(MetaLogMessage)
			logMsg := LogMessage{Level: LogLevel(level), Message: msg}
			if extra, ok := meta.GetValue(MetaLogExtra); ok {
				_ = json.Unmarshal([]byte(extra), &logMsg.Extras)
			}
			resp.Logs = append(resp.Logs, logMsg)
		default:
			doc, err := resultDocument(batch, meta)
			if err != nil {
				return nil, err
			}
			resp.Result = doc
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading response batch: %w", err)
	}
	if callErr != nil {
		return resp, callErr
	}
	if resp.Result == nil {
		return nil, &RpcError{Type: errProtocol, Message: "response stream carried no result batch"}
	}
	return resp, nil
}

func resultDocument(batch arrow.RecordBatch, meta arrow.Metadata) ([]byte, error) {
	if enc, _ := meta.GetValue(MetaResultEncoding); enc != ResultEncodingJSON {
		return nil, &RpcError{Type: errProtocol, Message: fmt.Sprintf("unsupported result encoding %q", enc)}
	}
	if batch.NumCols() != 1 || batch.NumRows() != 1 {
		return nil, &RpcError{
			Type:    errProtocol,
			Message: fmt.Sprintf("expected a 1x1 result batch, got %dx%d", batch.NumRows(), batch.NumCols()),
		}
	}
	col, ok := batch.Column(0).(*array.String)
	if !ok {
		return nil, &RpcError{Type: errProtocol, Message: fmt.Sprintf("result column has type %s", batch.Column(0).DataType())}
	}
	return []byte(col.Value(0)), nil
}
