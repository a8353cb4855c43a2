// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const describeMethod = "__describe__"

// describeSchema has one row per tool. Every tool is unary with no
// parameters and a JSON result.
var describeSchema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "method_type", Type: arrow.BinaryTypes.String},
	{Name: "doc", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "has_return", Type: &arrow.BooleanType{}},
	{Name: "params_schema_ipc", Type: arrow.BinaryTypes.Binary},
	{Name: "result_schema_ipc", Type: arrow.BinaryTypes.Binary},
	{Name: "param_types_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "param_defaults_json", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "has_header", Type: &arrow.BooleanType{}},
	{Name: "header_schema_ipc", Type: arrow.BinaryTypes.Binary, Nullable: true},
}, nil)

// Describe metadata keys.
const (
	MetaProtocolName    = "vgi_rpc.protocol_name"
	MetaDescribeVersion = "vgi_rpc.describe_version"
	DescribeVersion     = "2"

	protocolName = "HkEducationToolServer"
)

// serializeSchema serializes an Arrow schema to IPC format bytes.
func serializeSchema(schema *arrow.Schema) []byte {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	_ = w.Close()
	return buf.Bytes()
}

// buildDescribeBatch builds the __describe__ response batch, metadata included.
func (s *Server) buildDescribeBatch() arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	tools := s.Tools()

	nameBuilder := array.NewStringBuilder(mem)
	defer nameBuilder.Release()
	methodTypeBuilder := array.NewStringBuilder(mem)
	defer methodTypeBuilder.Release()
	docBuilder := array.NewStringBuilder(mem)
	defer docBuilder.Release()
	hasReturnBuilder := array.NewBooleanBuilder(mem)
	defer hasReturnBuilder.Release()
	paramsSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer paramsSchemaBuilder.Release()
	resultSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer resultSchemaBuilder.Release()
	paramTypesBuilder := array.NewStringBuilder(mem)
	defer paramTypesBuilder.Release()
	paramDefaultsBuilder := array.NewStringBuilder(mem)
	defer paramDefaultsBuilder.Release()
	hasHeaderBuilder := array.NewBooleanBuilder(mem)
	defer hasHeaderBuilder.Release()
	headerSchemaBuilder := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer headerSchemaBuilder.Release()

	paramsIPC := serializeSchema(emptySchema)
	resultIPC := serializeSchema(resultSchema)

	for _, t := range tools {
		nameBuilder.Append(t.Name)
		methodTypeBuilder.Append(DispatchMethodUnary)
		if t.Description == "" {
			docBuilder.AppendNull()
		} else {
			docBuilder.Append(t.Description)
		}
		hasReturnBuilder.Append(true)
		paramsSchemaBuilder.Append(paramsIPC)
		resultSchemaBuilder.Append(resultIPC)
		paramTypesBuilder.AppendNull()
		paramDefaultsBuilder.AppendNull()
		hasHeaderBuilder.Append(false)
		headerSchemaBuilder.AppendNull()
	}

	cols := []arrow.Array{
		nameBuilder.NewArray(),
		methodTypeBuilder.NewArray(),
		docBuilder.NewArray(),
		hasReturnBuilder.NewArray(),
		paramsSchemaBuilder.NewArray(),
		resultSchemaBuilder.NewArray(),
		paramTypesBuilder.NewArray(),
		paramDefaultsBuilder.NewArray(),
		hasHeaderBuilder.NewArray(),
		headerSchemaBuilder.NewArray(),
	}
	for _, c := range cols {
		defer c.Release()
	}

	keys := []string{MetaProtocolName, MetaRequestVersion, MetaDescribeVersion}
	vals := []string{protocolName, ProtocolVersion, DescribeVersion}
	meta := responseMetadata(keys, vals, s.serverID, "")

	return array.NewRecordBatchWithMetadata(describeSchema, cols, int64(len(tools)), meta)
}

// writeDescribe handles the __describe__ introspection request.
func (s *Server) writeDescribe(w io.Writer) error {
	batch := s.buildDescribeBatch()
	defer batch.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(describeSchema))
	if err := writer.Write(batch); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// ReadDescribe decodes a __describe__ response into the listed tools.
func ReadDescribe(r io.Reader) ([]ToolInfo, error) {
	reader, err := ipc.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("reading describe IPC stream: %w", err)
	}
	defer reader.Release()

	var tools []ToolInfo
	for reader.Next() {
		batch := reader.RecordBatch()
		meta := batchMetadata(batch)
		if level, ok := meta.GetValue(MetaLogLevel); ok && LogLevel(level) == LogException {
			msg, _ := meta.GetValue(MetaLogMessage)
			extra, _ := meta.GetValue(MetaLogExtra)
			return nil, errorFromExtra(msg, extra, "")
		}
		if batch.NumRows() == 0 {
			continue
		}
		names, ok1 := batch.Column(0).(*array.String)
		docs, ok2 := batch.Column(2).(*array.String)
		if !ok1 || !ok2 {
			return nil, &RpcError{Type: errProtocol, Message: "unexpected describe schema"}
		}
		for i := 0; i < names.Len(); i++ {
			info := ToolInfo{Name: names.Value(i)}
			if docs.IsValid(i) {
				info.Description = docs.Value(i)
			}
			tools = append(tools, info)
		}
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading describe batch: %w", err)
	}
	return tools, nil
}
