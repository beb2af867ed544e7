package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// Cursor is the keyset position after the last record of a page ordered by
// updatedAt, id.
type Cursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        string    `json:"i"`
}

// IsZero reports whether c marks the start of a change set.
func (c Cursor) IsZero() bool { return c.UpdatedAt.IsZero() && c.ID == "" }

// EncodeCursor renders the opaque __cursor value.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a __cursor value.
func DecodeCursor(s string) (Cursor, error) {
	var c Cursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("%w: malformed cursor", ErrInvalidQuery)
	}
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return c, fmt.Errorf("%w: malformed cursor", ErrInvalidQuery)
	}
	return c, nil
}

// SyncOrdering is the only ordering that supports keyset continuation.
func SyncOrdering() []query.Ordering {
	return []query.Ordering{
		{Key: ast.Field(models.FieldUpdatedAt, ast.KindDateTimeOffset)},
		{Key: ast.Field(models.FieldID, ast.KindString)},
	}
}

// IsSyncOrdering reports whether keys is updatedAt asc, id asc.
func IsSyncOrdering(keys []query.Ordering) bool {
	want := SyncOrdering()
	if len(keys) != len(want) {
		return false
	}
	for i := range keys {
		if keys[i].Direction != query.Ascending || !ast.Equal(keys[i].Key, want[i].Key) {
			return false
		}
	}
	return true
}

// After returns the predicate selecting records strictly after c in sync
// order: (updatedAt gt T) or ((updatedAt eq T) and (id gt ID)).
func (c Cursor) After() ast.Node {
	updatedAt := ast.Field(models.FieldUpdatedAt, ast.KindDateTimeOffset)
	id := ast.Field(models.FieldID, ast.KindString)
	return ast.Or(
		ast.Gt(updatedAt, ast.Const(c.UpdatedAt)),
		ast.And(ast.Eq(updatedAt, ast.Const(c.UpdatedAt)), ast.Gt(id, ast.Const(c.ID))),
	)
}
