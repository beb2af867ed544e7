package query

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// System query parameters.
const (
	ParamFilter         = "$filter"
	ParamOrderBy        = "$orderby"
	ParamSkip           = "$skip"
	ParamTop            = "$top"
	ParamSelect         = "$select"
	ParamCount          = "$count"
	ParamIncludeDeleted = "__includedeleted"
	ParamCursor         = "__cursor"
)

// Direction of an ordering key.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Ordering is one key of an $orderby list.
type Ordering struct {
	Key       ast.Node
	Direction Direction
}

// Description is the compiled-to-be form of one logical query.
type Description struct {
	Filter            ast.Node
	Ordering          []Ordering
	Selection         []string
	Skip              int
	Top               int // 0 means no limit
	IncludeDeleted    bool
	RequestTotalCount bool
	Cursor            string
	Parameters        map[string]string
}

// Clone returns a copy that can be modified independently. AST nodes are
// shared since they are never mutated.
func (d *Description) Clone() *Description {
	c := *d
	c.Ordering = slices.Clone(d.Ordering)
	c.Selection = slices.Clone(d.Selection)
	c.Parameters = maps.Clone(d.Parameters)
	return &c
}

// Param is a single key/value pair of a query string.
type Param struct {
	Key, Value string
}

// Params compiles the description into ordered, unescaped parameters.
func (d *Description) Params() ([]Param, error) {
	if d.Skip < 0 {
		return nil, compileErr(InvalidArgument, ParamSkip, "negative value %d", d.Skip)
	}
	if d.Top < 0 {
		return nil, compileErr(InvalidArgument, ParamTop, "negative value %d", d.Top)
	}

	var out []Param
	if d.Filter != nil {
		f, err := CompileFilter(d.Filter)
		if err != nil {
			return nil, err
		}
		out = append(out, Param{ParamFilter, f})
	}
	if len(d.Ordering) > 0 {
		o, err := CompileOrdering(d.Ordering)
		if err != nil {
			return nil, err
		}
		out = append(out, Param{ParamOrderBy, o})
	}
	if d.Skip > 0 {
		out = append(out, Param{ParamSkip, strconv.Itoa(d.Skip)})
	}
	if d.Top > 0 {
		out = append(out, Param{ParamTop, strconv.Itoa(d.Top)})
	}
	if len(d.Selection) > 0 {
		for _, f := range d.Selection {
			if f == "" || strings.ContainsAny(f, ", \t") {
				return nil, compileErr(InvalidArgument, ParamSelect, "invalid field name %q", f)
			}
		}
		out = append(out, Param{ParamSelect, strings.Join(d.Selection, ",")})
	}
	if d.RequestTotalCount {
		out = append(out, Param{ParamCount, "true"})
	}
	if d.IncludeDeleted {
		out = append(out, Param{ParamIncludeDeleted, "true"})
	}
	if d.Cursor != "" {
		out = append(out, Param{ParamCursor, d.Cursor})
	}
	for _, k := range slices.Sorted(maps.Keys(d.Parameters)) {
		if err := checkParameterKey(k); err != nil {
			return nil, err
		}
		out = append(out, Param{k, d.Parameters[k]})
	}
	return out, nil
}

// QueryString compiles the description into its wire form. Identical
// descriptions always produce identical strings.
func (d *Description) QueryString() (string, error) {
	params, err := d.Params()
	if err != nil {
		return "", err
	}
	parts := make([]string, len(params))
	for i, p := range params {
		key := p.Key
		if !isSystemParam(key) {
			key = Escape(key)
		}
		parts[i] = key + "=" + Escape(p.Value)
	}
	return strings.Join(parts, "&"), nil
}

// CompileOrdering renders an $orderby list.
func CompileOrdering(keys []Ordering) (string, error) {
	parts := make([]string, len(keys))
	for i, o := range keys {
		m, err := LowerOrderingKey(o.Key)
		if err != nil {
			return "", err
		}
		p, _ := m.Path()
		if o.Direction == Descending {
			p += " desc"
		}
		parts[i] = p
	}
	return strings.Join(parts, ","), nil
}

func checkParameterKey(k string) error {
	if k == "" || strings.HasPrefix(k, "$") || strings.HasPrefix(k, "__") {
		return compileErr(InvalidArgument, k, "parameter names must not be empty or start with $ or __")
	}
	return nil
}

func isSystemParam(k string) bool {
	switch k {
	case ParamFilter, ParamOrderBy, ParamSkip, ParamTop, ParamSelect, ParamCount, ParamIncludeDeleted, ParamCursor:
		return true
	}
	return false
}
