package query

import (
	"errors"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// Builder assembles a Description fluently. Argument errors are collected and
// reported by Build, so chains never need intermediate checks.
type Builder struct {
	d    Description
	errs []error
}

// NewBuilder starts an empty query.
func NewBuilder() *Builder {
	return &Builder{}
}

// From starts a builder from a copy of d.
func From(d *Description) *Builder {
	return &Builder{d: *d.Clone()}
}

// Where conjoins pred with any existing filter.
func (b *Builder) Where(pred ast.Node) *Builder {
	if pred == nil {
		b.errs = append(b.errs, compileErr(InvalidArgument, "Where", "nil predicate"))
		return b
	}
	if b.d.Filter == nil {
		b.d.Filter = pred
	} else {
		b.d.Filter = ast.And(b.d.Filter, pred)
	}
	return b
}

// Skip sets the number of records to skip. The last call wins.
func (b *Builder) Skip(n int) *Builder {
	if n < 0 {
		b.errs = append(b.errs, compileErr(InvalidArgument, "Skip", "negative value %d", n))
		return b
	}
	b.d.Skip = n
	return b
}

// Take sets the maximum number of records. The last call wins.
func (b *Builder) Take(n int) *Builder {
	if n <= 0 {
		b.errs = append(b.errs, compileErr(InvalidArgument, "Take", "value %d must be positive", n))
		return b
	}
	b.d.Top = n
	return b
}

// OrderBy replaces the ordering with key ascending.
func (b *Builder) OrderBy(key ast.Node) *Builder {
	b.d.Ordering = []Ordering{{Key: key, Direction: Ascending}}
	return b
}

// OrderByDescending replaces the ordering with key descending.
func (b *Builder) OrderByDescending(key ast.Node) *Builder {
	b.d.Ordering = []Ordering{{Key: key, Direction: Descending}}
	return b
}

// ThenBy appends an ascending key.
func (b *Builder) ThenBy(key ast.Node) *Builder {
	b.d.Ordering = append(b.d.Ordering, Ordering{Key: key, Direction: Ascending})
	return b
}

// ThenByDescending appends a descending key.
func (b *Builder) ThenByDescending(key ast.Node) *Builder {
	b.d.Ordering = append(b.d.Ordering, Ordering{Key: key, Direction: Descending})
	return b
}

// Select sets the projected fields.
func (b *Builder) Select(fields ...string) *Builder {
	b.d.Selection = append([]string(nil), fields...)
	return b
}

// IncludeDeletedItems asks for soft-deleted records too.
func (b *Builder) IncludeDeletedItems() *Builder {
	b.d.IncludeDeleted = true
	return b
}

// IncludeTotalCount asks the server for the unpaged total.
func (b *Builder) IncludeTotalCount() *Builder {
	b.d.RequestTotalCount = true
	return b
}

// WithParameter adds a free-form parameter. Keys must not start with $ or __.
func (b *Builder) WithParameter(key, value string) *Builder {
	if err := checkParameterKey(key); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	if b.d.Parameters == nil {
		b.d.Parameters = make(map[string]string)
	}
	b.d.Parameters[key] = value
	return b
}

// Build returns the accumulated description.
func (b *Builder) Build() (*Description, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return b.d.Clone(), nil
}

// QueryString builds and compiles in one step.
func (b *Builder) QueryString() (string, error) {
	d, err := b.Build()
	if err != nil {
		return "", err
	}
	return d.QueryString()
}
