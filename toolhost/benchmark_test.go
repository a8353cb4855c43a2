// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package toolhost

import (
	"context"
	"fmt"
	"testing"
)

// benchRows mimics the enrolment table: 19 districts by 8 grade columns.
func benchRows() []map[string]string {
	grades := []string{"All Grades", "P1", "P2", "P3", "P4", "P5", "P6", "Total"}
	rows := make([]map[string]string, 0, 19)
	for i := range 19 {
		row := map[string]string{"District": fmt.Sprintf("District %02d", i)}
		for j, g := range grades {
			row[g] = fmt.Sprint(1000*i + j)
		}
		rows = append(rows, row)
	}
	return rows
}

func newBenchServer(b *testing.B) *Server {
	b.Helper()
	rows := benchRows()
	s := NewServer()
	if err := s.Register("noop", "", func(ctx context.Context) (any, error) { return nil, nil }); err != nil {
		b.Fatal(err)
	}
	if err := s.Register("table", "", func(ctx context.Context) (any, error) { return rows, nil }); err != nil {
		b.Fatal(err)
	}
	return s
}

func BenchmarkPipeCall(b *testing.B) {
	for _, method := range []string{"noop", "table"} {
		b.Run(method, func(b *testing.B) {
			client := pipeClient(b, newBenchServer(b))
			ctx := context.Background()
			b.ReportAllocs()
			for b.Loop() {
				if _, err := client.Call(ctx, method); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkHTTPCall(b *testing.B) {
	for _, method := range []string{"noop", "table"} {
		b.Run(method, func(b *testing.B) {
			_, ts := newHTTPTestServer(b, newBenchServer(b))
			client := NewHttpClient(ts.URL)
			ctx := context.Background()
			b.ReportAllocs()
			for b.Loop() {
				if _, err := client.Call(ctx, method); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
