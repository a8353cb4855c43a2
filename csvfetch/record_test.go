// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package csvfetch

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMarshalJSONKeepsHeaderOrder(t *testing.T) {
	t.Parallel()

	rec := NewRecord(
		Field{Name: "District", Value: "All Districts"},
		Field{Name: "All Grades", Value: "325564"},
		Field{Name: "P1", Value: "52071"},
	)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"District":"All Districts","All Grades":"325564","P1":"52071"}`, string(data))
}

func TestRecordMarshalJSONEscapes(t *testing.T) {
	t.Parallel()

	rec := NewRecord(Field{Name: `say "hi"`, Value: "line\nbreak"})

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]string{`say "hi"`: "line\nbreak"}, decoded)
}

func TestRecordEmpty(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Record{})
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
	assert.Equal(t, 0, Record{}.Len())
}

func TestNewRecordDuplicateName(t *testing.T) {
	t.Parallel()

	rec := NewRecord(
		Field{Name: "a", Value: "1"},
		Field{Name: "b", Value: "2"},
		Field{Name: "a", Value: "3"},
	)

	assert.Equal(t, []string{"a", "b"}, rec.Keys())
	v, _ := rec.Get("a")
	assert.Equal(t, "3", v)
	_, ok := rec.Get("missing")
	assert.False(t, ok)
}

func TestRecordFieldsIsACopy(t *testing.T) {
	t.Parallel()

	rec := NewRecord(Field{Name: "a", Value: "1"})
	fields := rec.Fields()
	fields[0].Value = "changed"

	v, _ := rec.Get("a")
	assert.Equal(t, "1", v)
}
