// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tools attaches the server's operations to a host registration
// surface.
package tools

import (
	"context"
	"fmt"

	"github.com/hkopenai/hk-education-server/enrolment"
)

// Operation is a zero-argument remotely invocable operation. The returned
// value must be JSON-serializable. A non-nil error is a host-level fault,
// not a domain result.
type Operation = func(ctx context.Context) (any, error)

// Registrar is the capability a host exposes for registering operations.
type Registrar interface {
	// Register exposes op under name with a human-readable description.
	Register(name, description string, op Operation) error
}

const (
	// EnrolmentToolName is the name callers invoke.
	EnrolmentToolName = "get_student_enrolment_by_district"
	// EnrolmentToolDescription is shown to callers listing operations.
	EnrolmentToolDescription = "Student enrolment in primary schools by district and grade in Hong Kong from Education Bureau"
)

// RegisterEnrolment registers the student-enrolment operation. Invoking it
// delegates to f and returns the fetch result unchanged.
func RegisterEnrolment(r Registrar, f *enrolment.Fetcher) error {
	return r.Register(EnrolmentToolName, EnrolmentToolDescription, func(ctx context.Context) (any, error) {
		return f.Fetch(ctx), nil
	})
}

// RegisterAll registers every operation the server offers.
func RegisterAll(r Registrar, f *enrolment.Fetcher) error {
	if err := RegisterEnrolment(r, f); err != nil {
		return fmt.Errorf("failed to register %s: %w", EnrolmentToolName, err)
	}
	return nil
}
