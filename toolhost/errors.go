// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"errors"
	"fmt"
	"runtime"

	json "github.com/goccy/go-json"
)

// ErrRpc is a sentinel for use with errors.Is to check whether any error in a
// chain is an *RpcError.
var ErrRpc = &RpcError{}

// RpcError represents an error in the vgi_rpc protocol.
type RpcError struct {
	Type      string // e.g. "AttributeError", "TypeError"
	Message   string
	Traceback string
	RequestID string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is supports errors.Is by matching any *RpcError target.
func (e *RpcError) Is(target error) bool {
	_, ok := target.(*RpcError)
	return ok
}

// Error types reported by the host.
const (
	errProtocol      = "ProtocolError"
	errVersion       = "VersionError"
	errAttribute     = "AttributeError"
	errType          = "TypeError"
	errRuntime       = "RuntimeError"
	errSerialization = "SerializationError"
)

type stackFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// errorExtra is the JSON document written to vgi_rpc.log_extra for
// EXCEPTION-level batches.
type errorExtra struct {
	ExceptionType    string       `json:"exception_type"`
	ExceptionMessage string       `json:"exception_message"`
	Traceback        string       `json:"traceback,omitempty"`
	Frames           []stackFrame `json:"frames,omitempty"`
}

// buildErrorExtra creates the vgi_rpc.log_extra value for err. Stack
// information is only included when debug is set.
func buildErrorExtra(err error, debug bool) string {
	extra := errorExtra{
		ExceptionType:    fmt.Sprintf("%T", err),
		ExceptionMessage: err.Error(),
	}

	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		extra.ExceptionType = rpcErr.Type
		extra.ExceptionMessage = rpcErr.Message
		extra.Traceback = rpcErr.Traceback
	}

	if debug {
		if extra.Traceback == "" {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			extra.Traceback = string(buf[:n])
		}

		pcs := make([]uintptr, 10)
		n := runtime.Callers(2, pcs)
		if n > 0 {
			frames := runtime.CallersFrames(pcs[:n])
			for len(extra.Frames) < 5 {
				frame, more := frames.Next()
				extra.Frames = append(extra.Frames, stackFrame{
					File:     frame.File,
					Line:     frame.Line,
					Function: frame.Function,
				})
				if !more {
					break
				}
			}
		}
	}

	data, err := json.Marshal(extra)
	if err != nil {
		return `{}`
	}
	return string(data)
}

// errorFromExtra rebuilds an *RpcError from an EXCEPTION batch.
func errorFromExtra(message, extraJSON, requestID string) *RpcError {
	rpcErr := &RpcError{Type: errRuntime, Message: message, RequestID: requestID}
	if extraJSON == "" {
		return rpcErr
	}
	var extra errorExtra
	if err := json.Unmarshal([]byte(extraJSON), &extra); err != nil {
		return rpcErr
	}
	if extra.ExceptionType != "" {
		rpcErr.Type = extra.ExceptionType
	}
	if extra.ExceptionMessage != "" {
		rpcErr.Message = extra.ExceptionMessage
	}
	rpcErr.Traceback = extra.Traceback
	return rpcErr
}
