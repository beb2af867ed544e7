package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// sqlType is the Postgres type an expression evaluates to. typeJSON marks
// text extracted from the JSONB document, which is cast on demand.
type sqlType int

const (
	typeJSON sqlType = iota
	typeText
	typeNumeric
	typeBool
	typeTimestamp
	typeDate
	typeTime
	typeNull
)

func (t sqlType) cast() string {
	switch t {
	case typeNumeric:
		return "::numeric"
	case typeBool:
		return "::boolean"
	case typeTimestamp:
		return "::timestamptz"
	case typeDate:
		return "::date"
	case typeTime:
		return "::time"
	}
	return ""
}

// Columns maps system fields to SQL expressions; other members are read from
// the JSONB column named by Data.
type Columns struct {
	System map[string]Column
	Data   string
}

// Column is the SQL expression of a system field and its type.
type Column struct {
	Expr string
	Type sqlType
}

// RecordColumns is the layout of the datasync_records table.
var RecordColumns = Columns{
	System: map[string]Column{
		"id":        {"id", typeText},
		"updatedAt": {"updated_at", typeTimestamp},
		"deleted":   {"deleted", typeBool},
		"version":   {"encode(version, 'base64')", typeText},
	},
	Data: "data",
}

// FilterBuilder translates wire trees into Postgres predicates with $n
// placeholders.
type FilterBuilder struct {
	cols Columns
	args []any
}

// NewFilterBuilder starts numbering placeholders after the given args.
func NewFilterBuilder(cols Columns, args ...any) *FilterBuilder {
	return &FilterBuilder{cols: cols, args: args}
}

// Args returns every bound argument so far.
func (b *FilterBuilder) Args() []any { return b.args }

// Where renders a predicate. A nil filter renders as TRUE.
func (b *FilterBuilder) Where(n ast.Node) (string, error) {
	if n == nil {
		return "TRUE", nil
	}
	sql, t, err := b.expr(n)
	if err != nil {
		return "", err
	}
	return b.coerce(sql, t, typeBool), nil
}

// OrderBy renders an ORDER BY list (without the keyword). Nulls sort first in
// ascending order, matching the in-memory evaluator.
func (b *FilterBuilder) OrderBy(keys []query.Ordering) (string, error) {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		m, ok := k.Key.(*ast.MemberAccess)
		if !ok {
			return "", fmt.Errorf("ordering key %s is not a member", ast.Describe(k.Key))
		}
		sql, _, err := b.member(m)
		if err != nil {
			return "", err
		}
		if k.Direction == query.Descending {
			parts = append(parts, sql+" DESC NULLS LAST")
		} else {
			parts = append(parts, sql+" ASC NULLS FIRST")
		}
	}
	return strings.Join(parts, ", "), nil
}

func (b *FilterBuilder) bind(v any, cast string) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args)) + cast
}

// coerce casts sql from type have to type want when have is raw JSON text.
func (b *FilterBuilder) coerce(sql string, have, want sqlType) string {
	if have == typeJSON && want != typeJSON && want != typeText {
		return "(" + sql + ")" + want.cast()
	}
	return sql
}

func (b *FilterBuilder) expr(n ast.Node) (string, sqlType, error) {
	switch v := n.(type) {
	case *ast.Constant:
		return b.constant(v)
	case *ast.MemberAccess:
		return b.member(v)
	case *ast.UnaryOp:
		return b.unary(v)
	case *ast.BinaryOp:
		return b.binary(v)
	case *ast.Convert:
		sql, t, err := b.expr(v.Source)
		if err != nil {
			return "", 0, err
		}
		target := kindType(v.Target)
		if t == typeJSON {
			return b.coerce(sql, t, target), target, nil
		}
		return "(" + sql + ")" + target.cast(), target, nil
	case *ast.Call:
		return b.call(v)
	}
	return "", 0, fmt.Errorf("unsupported node %T", n)
}

func kindType(k ast.Kind) sqlType {
	switch k {
	case ast.KindInt, ast.KindFloat, ast.KindDecimal:
		return typeNumeric
	case ast.KindBool:
		return typeBool
	case ast.KindDateTime, ast.KindDateTimeOffset:
		return typeTimestamp
	case ast.KindDate:
		return typeDate
	case ast.KindTime:
		return typeTime
	case ast.KindString, ast.KindGUID, ast.KindEnum:
		return typeText
	}
	return typeJSON
}

func (b *FilterBuilder) constant(c *ast.Constant) (string, sqlType, error) {
	switch v := c.Value.(type) {
	case nil:
		return "NULL", typeNull, nil
	case bool:
		return b.bind(v, "::boolean"), typeBool, nil
	case string:
		return b.bind(v, "::text"), typeText, nil
	case decimal.Decimal:
		return b.bind(v.String(), "::numeric"), typeNumeric, nil
	case float64:
		return b.bind(v, "::float8"), typeNumeric, nil
	case float32:
		return b.bind(float64(v), "::float8"), typeNumeric, nil
	case time.Time:
		return b.bind(v.UTC(), "::timestamptz"), typeTimestamp, nil
	case ast.Date:
		return b.bind(v.String(), "::date"), typeDate, nil
	case ast.TimeOfDay:
		return b.bind(v.String(), "::time"), typeTime, nil
	case uuid.UUID:
		return b.bind(v.String(), "::text"), typeText, nil
	case []any:
		return "", 0, fmt.Errorf("list literal outside of in")
	case fmt.Stringer:
		return b.bind(v.String(), "::text"), typeText, nil
	}
	if i, ok := ast.AsInt64(c.Value); ok {
		return b.bind(i, "::bigint"), typeNumeric, nil
	}
	return "", 0, fmt.Errorf("unsupported literal %T", c.Value)
}

func (b *FilterBuilder) member(m *ast.MemberAccess) (string, sqlType, error) {
	path, ok := m.Path()
	if !ok {
		return "", 0, fmt.Errorf("member %s is not a path", ast.Describe(m))
	}
	if col, ok := b.cols.System[path]; ok {
		return col.Expr, col.Type, nil
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if strings.ContainsAny(s, "{},\"'\\") {
			return "", 0, fmt.Errorf("invalid member %q", path)
		}
	}
	return fmt.Sprintf("(%s #>> '{%s}')", b.cols.Data, strings.Join(segs, ",")), typeJSON, nil
}

func (b *FilterBuilder) unary(u *ast.UnaryOp) (string, sqlType, error) {
	sql, t, err := b.expr(u.Operand)
	if err != nil {
		return "", 0, err
	}
	switch u.Op {
	case ast.OpNot:
		return "(NOT " + b.coerce(sql, t, typeBool) + ")", typeBool, nil
	case ast.OpNegate:
		return "(-" + b.coerce(sql, t, typeNumeric) + ")", typeNumeric, nil
	}
	return "", 0, fmt.Errorf("unsupported unary operator %s", u.Op)
}

var sqlOperators = map[ast.Op]string{
	ast.OpEq:  "=",
	ast.OpNe:  "<>",
	ast.OpGt:  ">",
	ast.OpGe:  ">=",
	ast.OpLt:  "<",
	ast.OpLe:  "<=",
	ast.OpAdd: "+",
	ast.OpSub: "-",
	ast.OpMul: "*",
	ast.OpDiv: "/",
	ast.OpMod: "%",
}

func (b *FilterBuilder) binary(op *ast.BinaryOp) (string, sqlType, error) {
	if op.Op == ast.OpIn {
		return b.in(op)
	}
	l, lt, err := b.expr(op.Left)
	if err != nil {
		return "", 0, err
	}
	r, rt, err := b.expr(op.Right)
	if err != nil {
		return "", 0, err
	}

	switch {
	case op.Op.IsLogical():
		kw := " AND "
		if op.Op == ast.OpOr {
			kw = " OR "
		}
		return "(" + b.coerce(l, lt, typeBool) + kw + b.coerce(r, rt, typeBool) + ")", typeBool, nil

	case op.Op.IsComparison():
		if rt == typeNull || lt == typeNull {
			other := l
			if lt == typeNull {
				other = r
			}
			switch op.Op {
			case ast.OpEq:
				return "(" + other + " IS NULL)", typeBool, nil
			case ast.OpNe:
				return "(" + other + " IS NOT NULL)", typeBool, nil
			}
			return "FALSE", typeBool, nil
		}
		// Cast the JSON side to the type of the typed side.
		l = b.coerce(l, lt, rt)
		r = b.coerce(r, rt, lt)
		return "(" + l + " " + sqlOperators[op.Op] + " " + r + ")", typeBool, nil

	case op.Op.IsArithmetic():
		l = b.coerce(l, lt, typeNumeric)
		r = b.coerce(r, rt, typeNumeric)
		switch op.Op {
		case ast.OpDiv:
			return divide(op, l, r), typeNumeric, nil
		case ast.OpMod:
			return "(" + l + " % NULLIF(" + r + ", 0))", typeNumeric, nil
		}
		return "(" + l + " " + sqlOperators[op.Op] + " " + r + ")", typeNumeric, nil
	}
	return "", 0, fmt.Errorf("unsupported binary operator %s", op.Op)
}

// divide truncates only when both operands are integers. Operands whose type
// is only known at run time are tested with scale().
func divide(op *ast.BinaryOp, l, r string) string {
	q := "(" + l + " / NULLIF(" + r + ", 0))"
	var conds []string
	for _, side := range []struct {
		node ast.Node
		sql  string
	}{{op.Left, l}, {op.Right, r}} {
		is, known := ast.Integral(side.node)
		switch {
		case known && !is:
			return q
		case !known:
			conds = append(conds, "scale("+side.sql+") = 0")
		}
	}
	if len(conds) == 0 {
		return "trunc" + q
	}
	return "(CASE WHEN " + strings.Join(conds, " AND ") + " THEN trunc" + q + " ELSE " + q + " END)"
}

func (b *FilterBuilder) in(op *ast.BinaryOp) (string, sqlType, error) {
	list, ok := op.Right.(*ast.Constant)
	if !ok {
		return "", 0, fmt.Errorf("in requires a list literal")
	}
	items, _ := list.Value.([]any)
	if len(items) == 0 {
		return "FALSE", typeBool, nil
	}
	l, lt, err := b.expr(op.Left)
	if err != nil {
		return "", 0, err
	}
	parts := make([]string, len(items))
	var et sqlType = typeText
	for i, it := range items {
		s, t, err := b.constant(&ast.Constant{Value: it})
		if err != nil {
			return "", 0, err
		}
		parts[i] = s
		et = t
	}
	return "(" + b.coerce(l, lt, et) + " IN (" + strings.Join(parts, ", ") + "))", typeBool, nil
}

func (b *FilterBuilder) call(c *ast.Call) (string, sqlType, error) {
	args := make([]string, len(c.Args))
	types := make([]sqlType, len(c.Args))
	for i, a := range c.Args {
		s, t, err := b.expr(a)
		if err != nil {
			return "", 0, err
		}
		args[i], types[i] = s, t
	}
	text := func(i int) string { return b.coerce(args[i], types[i], typeText) }
	num := func(i int) string { return b.coerce(args[i], types[i], typeNumeric) }
	ts := func(i int) string {
		switch types[i] {
		case typeDate, typeTime:
			return args[i]
		case typeTimestamp:
			return "(" + args[i] + " AT TIME ZONE 'UTC')"
		}
		return "((" + args[i] + ")::timestamptz AT TIME ZONE 'UTC')"
	}

	switch c.Name {
	case query.FnStartsWith:
		return "starts_with(" + text(0) + ", " + text(1) + ")", typeBool, nil
	case query.FnEndsWith:
		return "(right(" + text(0) + ", char_length(" + text(1) + ")) = " + text(1) + ")", typeBool, nil
	case query.FnContains:
		return "(strpos(" + text(0) + ", " + text(1) + ") > 0)", typeBool, nil
	case query.FnToLower:
		return "lower(" + text(0) + ")", typeText, nil
	case query.FnToUpper:
		return "upper(" + text(0) + ")", typeText, nil
	case query.FnTrim:
		return "btrim(" + text(0) + ")", typeText, nil
	case query.FnLength:
		return "char_length(" + text(0) + ")", typeNumeric, nil
	case query.FnConcat:
		return "(" + text(0) + " || " + text(1) + ")", typeText, nil
	case query.FnIndexOf:
		return "(strpos(" + text(0) + ", " + text(1) + ") - 1)", typeNumeric, nil
	case query.FnSubstring:
		if len(args) == 3 {
			return "substr(" + text(0) + ", (" + num(1) + ")::int + 1, (" + num(2) + ")::int)", typeText, nil
		}
		return "substr(" + text(0) + ", (" + num(1) + ")::int + 1)", typeText, nil
	case query.FnYear, query.FnMonth, query.FnDay, query.FnHour, query.FnMinute:
		return "EXTRACT(" + strings.ToUpper(c.Name) + " FROM " + ts(0) + ")", typeNumeric, nil
	case query.FnSecond:
		return "floor(EXTRACT(SECOND FROM " + ts(0) + "))", typeNumeric, nil
	case query.FnCeiling:
		return "ceil(" + num(0) + ")", typeNumeric, nil
	case query.FnFloor:
		return "floor(" + num(0) + ")", typeNumeric, nil
	case query.FnRound:
		return "round(" + num(0) + ")", typeNumeric, nil
	}
	return "", 0, fmt.Errorf("unsupported function %s", c.Name)
}
