package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// System field names shared by every table.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
	FieldVersion   = "version"
	FieldDeleted   = "deleted"
)

// TimeLayout is the wire form of updatedAt.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// IsSystemField reports whether name is one of the four system fields.
func IsSystemField(name string) bool {
	switch name {
	case FieldID, FieldUpdatedAt, FieldVersion, FieldDeleted:
		return true
	}
	return false
}

// Record is a single synchronizable row. Data holds the entity fields; on the
// wire they are flattened next to the system fields.
type Record struct {
	ID        string
	UpdatedAt time.Time
	Version   Version
	Deleted   bool
	Data      map[string]any
}

// Snapshot returns the version/watermark pair of r.
func (r *Record) Snapshot() Snapshot {
	return Snapshot{Version: r.Version, UpdatedAt: r.UpdatedAt}
}

func (r *Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		if !IsSystemField(k) {
			m[k] = v
		}
	}
	m[FieldID] = r.ID
	if !r.UpdatedAt.IsZero() {
		m[FieldUpdatedAt] = r.UpdatedAt.UTC().Format(TimeLayout)
	}
	if !r.Version.IsZero() {
		m[FieldVersion] = r.Version.String()
	}
	m[FieldDeleted] = r.Deleted
	return json.Marshal(m)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	rec := Record{Data: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case FieldID:
			s, ok := v.(string)
			if !ok && v != nil {
				return fmt.Errorf("record: id must be a string, got %T", v)
			}
			rec.ID = s
		case FieldUpdatedAt:
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("record: updatedAt must be a string, got %T", v)
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("record: updatedAt: %w", err)
			}
			rec.UpdatedAt = t.UTC()
		case FieldVersion:
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("record: version must be a string, got %T", v)
			}
			ver, err := ParseVersion(s)
			if err != nil {
				return fmt.Errorf("record: %w", err)
			}
			rec.Version = ver
		case FieldDeleted:
			if v == nil {
				continue
			}
			d, ok := v.(bool)
			if !ok {
				return fmt.Errorf("record: deleted must be a boolean, got %T", v)
			}
			rec.Deleted = d
		default:
			rec.Data[k] = v
		}
	}
	*r = rec
	return nil
}

// Field resolves a slash separated member path.
func (r *Record) Field(path string) (any, bool) {
	switch path {
	case FieldID:
		return r.ID, true
	case FieldUpdatedAt:
		if r.UpdatedAt.IsZero() {
			return nil, true
		}
		return r.UpdatedAt, true
	case FieldVersion:
		if r.Version.IsZero() {
			return nil, true
		}
		return r.Version.String(), true
	case FieldDeleted:
		return r.Deleted, true
	}
	var cur any = r.Data
	for _, seg := range strings.Split(path, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Version = append(Version(nil), r.Version...)
	if r.Data != nil {
		c.Data = cloneValue(r.Data).(map[string]any)
	}
	return &c
}

// Project keeps only the named entity fields. System fields are always kept.
func (r *Record) Project(fields []string) *Record {
	if len(fields) == 0 {
		return r
	}
	c := *r
	c.Data = make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := r.Data[f]; ok {
			c.Data[f] = v
		}
	}
	return &c
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			s[i] = cloneValue(e)
		}
		return s
	}
	return v
}
