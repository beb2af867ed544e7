package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionIsUniquePerCall(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		v := NewVersion()
		require.False(t, seen[v.String()])
		seen[v.String()] = true
	}
}

func TestETagRoundTrip(t *testing.T) {
	v := NewVersion()
	got, err := ParseETag(v.ETag())
	require.NoError(t, err)
	assert.True(t, v.Equal(got))

	got, err = ParseETag(`W/` + v.ETag())
	require.NoError(t, err)
	assert.True(t, v.Equal(got))

	for _, h := range []string{"", "*", "  "} {
		got, err := ParseETag(h)
		require.NoError(t, err)
		assert.True(t, got.IsZero())
	}

	_, err = ParseETag("no-quotes")
	assert.ErrorIs(t, err, ErrInvalidETag)
	_, err = ParseETag(`"%%%"`)
	assert.ErrorIs(t, err, ErrInvalidETag)
}

func TestNextUpdatedAtIsStrictlyIncreasing(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Second), NextUpdatedAt(base, base.Add(time.Second)))
	assert.Equal(t, base.Add(time.Microsecond), NextUpdatedAt(base, base))
	assert.Equal(t, base.Add(time.Microsecond), NextUpdatedAt(base, base.Add(-time.Hour)))
	assert.Equal(t, base.Add(time.Microsecond), NextUpdatedAt(base, base.Add(500*time.Nanosecond)))
}

func TestRecordJSON(t *testing.T) {
	rec := &Record{
		ID:        "a1",
		UpdatedAt: time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC),
		Version:   Version{1, 2, 3},
		Data:      map[string]any{"title": "hello", "id": "ignored", "nested": map[string]any{"n": 1}},
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "a1",
		"updatedAt": "2024-05-06T07:08:09.123456Z",
		"version": "AQID",
		"deleted": false,
		"title": "hello",
		"nested": {"n": 1}
	}`, string(b))

	var back Record
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, rec.ID, back.ID)
	assert.True(t, rec.UpdatedAt.Equal(back.UpdatedAt))
	assert.True(t, rec.Version.Equal(back.Version))
	assert.Equal(t, "hello", back.Data["title"])
	assert.Equal(t, json.Number("1"), back.Data["nested"].(map[string]any)["n"])
}

func TestRecordUnmarshalRejectsBadSystemFields(t *testing.T) {
	for _, in := range []string{
		`{"id": 5}`,
		`{"updatedAt": "yesterday"}`,
		`{"version": "%%"}`,
		`{"deleted": "yes"}`,
	} {
		var r Record
		assert.Error(t, json.Unmarshal([]byte(in), &r), in)
	}
}

func TestRecordField(t *testing.T) {
	rec := &Record{ID: "x", Deleted: true, Data: map[string]any{"a": map[string]any{"b": "c"}}}
	v, ok := rec.Field("a/b")
	require.True(t, ok)
	assert.Equal(t, "c", v)

	_, ok = rec.Field("a/z")
	assert.False(t, ok)

	v, _ = rec.Field(FieldDeleted)
	assert.Equal(t, true, v)
	v, _ = rec.Field(FieldUpdatedAt)
	assert.Nil(t, v)
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := &Record{ID: "x", Version: Version{9}, Data: map[string]any{"list": []any{"a"}}}
	c := rec.Clone()
	c.Data["list"].([]any)[0] = "b"
	c.Version[0] = 1
	assert.Equal(t, "a", rec.Data["list"].([]any)[0])
	assert.Equal(t, byte(9), rec.Version[0])
}

func TestPageLast(t *testing.T) {
	t0 := time.Unix(100, 0)
	p := &Page{Items: []*Record{
		{ID: "b", UpdatedAt: t0},
		{ID: "c", UpdatedAt: t0},
		{ID: "a", UpdatedAt: t0.Add(-time.Second)},
	}}
	assert.Equal(t, "c", p.Last().ID)
	assert.Nil(t, (&Page{}).Last())
}

func TestCollapse(t *testing.T) {
	base := Version{1}
	item := &Record{ID: "x"}
	newer := &Record{ID: "x", Data: map[string]any{"v": 2}}

	got := Collapse(Operation{ID: 1, Kind: OpCreate, Item: item}, Operation{Kind: OpReplace, Item: newer})
	require.NotNil(t, got)
	assert.Equal(t, OpCreate, got.Kind)
	assert.Same(t, newer, got.Item)
	assert.Equal(t, int64(1), got.ID)

	assert.Nil(t, Collapse(Operation{Kind: OpCreate}, Operation{Kind: OpDelete}))

	got = Collapse(Operation{ID: 2, Kind: OpReplace, Version: base}, Operation{Kind: OpDelete, Version: Version{7}})
	assert.Equal(t, OpDelete, got.Kind)
	assert.Equal(t, base, got.Version)
	assert.Equal(t, int64(2), got.ID)

	got = Collapse(Operation{ID: 3, Kind: OpDelete, Version: base}, Operation{Kind: OpCreate, Item: newer})
	assert.Equal(t, OpReplace, got.Kind)
	assert.Equal(t, base, got.Version)
}
