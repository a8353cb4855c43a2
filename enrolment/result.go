// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package enrolment

import (
	json "github.com/goccy/go-json"

	"github.com/hkopenai/hk-education-server/csvfetch"
)

// ErrorType is the only error kind an enrolment call reports.
const ErrorType = "Error"

// Result is the outcome of one fetch: either Records or ErrorResult, never
// both. Both encode to the JSON shapes remote callers expect.
type Result interface {
	isResult()
}

// Records is a successful fetch: zero or more rows in source order. It
// always encodes as a JSON array, never null.
type Records []csvfetch.Record

func (Records) isResult() {}

// MarshalJSON encodes the rows as a JSON array.
func (r Records) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]csvfetch.Record(r))
}

// ErrorResult is a failed fetch, encoded as {"type":"Error","error":"..."}.
type ErrorResult struct {
	Type    string `json:"type"`
	Message string `json:"error"`
}

func (ErrorResult) isResult() {}

// NewErrorResult builds an ErrorResult carrying msg.
func NewErrorResult(msg string) ErrorResult {
	return ErrorResult{Type: ErrorType, Message: msg}
}
