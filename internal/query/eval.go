package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// FieldSource exposes record fields to the evaluator by member path.
type FieldSource interface {
	Field(path string) (any, bool)
}

// Matches reports whether pred evaluates to true for src. A nil predicate
// matches everything; null results do not match.
func Matches(pred ast.Node, src FieldSource) (bool, error) {
	if pred == nil {
		return true, nil
	}
	v, err := Evaluate(pred, src)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	return ok && b, nil
}

// Evaluate computes the value of a wire tree against src. Arithmetic results
// are decimals; null propagates through functions and arithmetic.
func Evaluate(n ast.Node, src FieldSource) (any, error) {
	switch v := n.(type) {
	case *ast.Constant:
		return v.Value, nil
	case *ast.MemberAccess:
		p, ok := v.Path()
		if !ok {
			return nil, compileErr(UnsupportedMember, ast.Describe(v), "not a member path")
		}
		val, _ := src.Field(p)
		return val, nil
	case *ast.UnaryOp:
		return evalUnary(v, src)
	case *ast.BinaryOp:
		return evalBinary(v, src)
	case *ast.Convert:
		val, err := Evaluate(v.Source, src)
		if err != nil {
			return nil, err
		}
		return convertValue(val, v.Target), nil
	case *ast.Call:
		return evalCall(v, src)
	}
	return nil, compileErr(UnsupportedOperator, ast.Describe(n), "unknown node")
}

func evalUnary(u *ast.UnaryOp, src FieldSource) (any, error) {
	val, err := Evaluate(u.Operand, src)
	if err != nil || val == nil {
		return nil, err
	}
	switch u.Op {
	case ast.OpNot:
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("query: not applied to %T", val)
		}
		return !b, nil
	case ast.OpNegate:
		d, ok := toNumber(val)
		if !ok {
			return nil, fmt.Errorf("query: negation of %T", val)
		}
		return d.Neg(), nil
	}
	return nil, compileErr(UnsupportedOperator, ast.Describe(u), "")
}

func evalBinary(b *ast.BinaryOp, src FieldSource) (any, error) {
	l, err := Evaluate(b.Left, src)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case ast.OpAnd:
		if lb, ok := l.(bool); ok && !lb {
			return false, nil
		}
	case ast.OpOr:
		if lb, ok := l.(bool); ok && lb {
			return true, nil
		}
	}
	r, err := Evaluate(b.Right, src)
	if err != nil {
		return nil, err
	}

	switch {
	case b.Op.IsLogical():
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if b.Op == ast.OpAnd {
			return lok && rok && lb && rb, nil
		}
		return (lok && lb) || (rok && rb), nil

	case b.Op == ast.OpEq || b.Op == ast.OpNe:
		eq := l == nil && r == nil
		if l != nil && r != nil {
			c, ok := Compare(l, r)
			eq = ok && c == 0
		}
		return eq == (b.Op == ast.OpEq), nil

	case b.Op.IsComparison():
		if l == nil || r == nil {
			return false, nil
		}
		c, ok := Compare(l, r)
		if !ok {
			return false, nil
		}
		switch b.Op {
		case ast.OpGt:
			return c > 0, nil
		case ast.OpGe:
			return c >= 0, nil
		case ast.OpLt:
			return c < 0, nil
		}
		return c <= 0, nil

	case b.Op.IsArithmetic():
		if l == nil || r == nil {
			return nil, nil
		}
		return arithmetic(b, l, r)

	case b.Op == ast.OpIn:
		items, _ := r.([]any)
		for _, it := range items {
			if c, ok := Compare(l, it); ok && c == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, compileErr(UnsupportedOperator, ast.Describe(b), "")
}

func arithmetic(b *ast.BinaryOp, l, r any) (any, error) {
	op := b.Op
	x, ok := toNumber(l)
	if !ok {
		return nil, fmt.Errorf("query: %s on %T", op, l)
	}
	y, ok := toNumber(r)
	if !ok {
		return nil, fmt.Errorf("query: %s on %T", op, r)
	}
	switch op {
	case ast.OpAdd:
		return x.Add(y), nil
	case ast.OpSub:
		return x.Sub(y), nil
	case ast.OpMul:
		return x.Mul(y), nil
	case ast.OpDiv, ast.OpMod:
		// A zero divisor yields null, as NULLIF does in SQL.
		if y.IsZero() {
			return nil, nil
		}
		if op == ast.OpMod {
			return x.Mod(y), nil
		}
		if integral(b.Left, l) && integral(b.Right, r) {
			return x.Div(y).Truncate(0), nil
		}
		return x.Div(y), nil
	}
	return nil, fmt.Errorf("query: %s is not arithmetic", op)
}

// integral falls back to the value's own representation when the node's
// type does not decide it.
func integral(n ast.Node, v any) bool {
	if is, known := ast.Integral(n); known {
		return is
	}
	switch x := v.(type) {
	case float32, float64:
		return false
	case decimal.Decimal:
		return x.Exponent() >= 0
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return err == nil && d.Exponent() >= 0
	}
	_, ok := ast.AsInt64(v)
	return ok
}

func evalCall(c *ast.Call, src FieldSource) (any, error) {
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := Evaluate(a, src)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		args[i] = v
	}
	str := func(i int) string {
		if s, ok := args[i].(string); ok {
			return s
		}
		if s, ok := args[i].(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprint(args[i])
	}
	integer := func(i int) (int, error) {
		d, ok := toNumber(args[i])
		if !ok || !d.IsInteger() {
			return 0, fmt.Errorf("query: %s argument %d is not an integer", c.Name, i+1)
		}
		return int(d.IntPart()), nil
	}

	switch c.Name {
	case FnStartsWith:
		return strings.HasPrefix(str(0), str(1)), nil
	case FnEndsWith:
		return strings.HasSuffix(str(0), str(1)), nil
	case FnContains:
		return strings.Contains(str(0), str(1)), nil
	case FnToLower:
		return strings.ToLower(str(0)), nil
	case FnToUpper:
		return strings.ToUpper(str(0)), nil
	case FnTrim:
		return strings.TrimSpace(str(0)), nil
	case FnLength:
		return int64(utf8.RuneCountInString(str(0))), nil
	case FnConcat:
		return str(0) + str(1), nil
	case FnIndexOf:
		s := str(0)
		i := strings.Index(s, str(1))
		if i < 0 {
			return int64(-1), nil
		}
		return int64(utf8.RuneCountInString(s[:i])), nil
	case FnSubstring:
		runes := []rune(str(0))
		start, err := integer(1)
		if err != nil {
			return nil, err
		}
		start = min(max(start, 0), len(runes))
		end := len(runes)
		if len(args) == 3 {
			n, err := integer(2)
			if err != nil {
				return nil, err
			}
			end = min(start+max(n, 0), len(runes))
		}
		return string(runes[start:end]), nil
	case FnYear, FnMonth, FnDay, FnHour, FnMinute, FnSecond:
		return dateComponent(c.Name, args[0])
	case FnCeiling, FnFloor, FnRound:
		d, ok := toNumber(args[0])
		if !ok {
			return nil, fmt.Errorf("query: %s of %T", c.Name, args[0])
		}
		switch c.Name {
		case FnCeiling:
			return d.Ceil(), nil
		case FnFloor:
			return d.Floor(), nil
		}
		return d.Round(0), nil
	}
	return nil, compileErr(UnsupportedMethod, ast.Describe(c), "not in the supported function set")
}

func dateComponent(fn string, v any) (any, error) {
	switch x := v.(type) {
	case ast.Date:
		switch fn {
		case FnYear:
			return int64(x.Year), nil
		case FnMonth:
			return int64(x.Month), nil
		case FnDay:
			return int64(x.Day), nil
		}
	case ast.TimeOfDay:
		switch fn {
		case FnHour:
			return int64(x.Hour), nil
		case FnMinute:
			return int64(x.Minute), nil
		case FnSecond:
			return int64(x.Second), nil
		}
	default:
		t, ok := toTime(v)
		if !ok {
			break
		}
		t = t.UTC()
		switch fn {
		case FnYear:
			return int64(t.Year()), nil
		case FnMonth:
			return int64(t.Month()), nil
		case FnDay:
			return int64(t.Day()), nil
		case FnHour:
			return int64(t.Hour()), nil
		case FnMinute:
			return int64(t.Minute()), nil
		}
		return int64(t.Second()), nil
	}
	return nil, fmt.Errorf("query: %s of %T", fn, v)
}

// Compare orders two non-null values, coercing strings to the type of the
// other operand where the wire format sends them as text. It returns false
// when the values are not comparable.
func Compare(a, b any) (int, bool) {
	if x, ok := toNumber(a); ok {
		if y, ok := toNumber(b); ok {
			return x.Cmp(y), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	case time.Time:
		y, ok := toTime(b)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case ast.Date:
		y, ok := toDate(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.String(), y.String()), true
	case ast.TimeOfDay:
		y, ok := toTimeOfDay(b)
		if !ok {
			return 0, false
		}
		return compareTimeOfDay(x, y), true
	case uuid.UUID:
		y, ok := toUUID(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.String(), y.String()), true
	case string:
		switch b.(type) {
		case time.Time, ast.Date, ast.TimeOfDay, uuid.UUID:
			c, ok := Compare(b, a)
			return -c, ok
		case string:
			return strings.Compare(x, b.(string)), true
		case fmt.Stringer:
			return strings.Compare(x, b.(fmt.Stringer).String()), true
		}
		return 0, false
	case fmt.Stringer:
		return Compare(x.String(), b)
	}
	return 0, false
}

func compareTimeOfDay(a, b ast.TimeOfDay) int {
	as := ((a.Hour*60+a.Minute)*60+a.Second)*1e9 + a.Nanosecond
	bs := ((b.Hour*60+b.Minute)*60+b.Second)*1e9 + b.Nanosecond
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func toNumber(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case bool, string, nil:
		return decimal.Decimal{}, false
	}
	return toDecimal(v)
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		return t, err == nil
	}
	return time.Time{}, false
}

func toDate(v any) (ast.Date, bool) {
	switch x := v.(type) {
	case ast.Date:
		return x, true
	case time.Time:
		return ast.DateOf(x), true
	case string:
		if d, err := ast.ParseDate(x); err == nil {
			return d, true
		}
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return ast.DateOf(t), true
		}
	}
	return ast.Date{}, false
}

func toTimeOfDay(v any) (ast.TimeOfDay, bool) {
	switch x := v.(type) {
	case ast.TimeOfDay:
		return x, true
	case time.Time:
		return ast.TimeOfDayOf(x), true
	case string:
		t, err := ast.ParseTimeOfDay(x)
		return t, err == nil
	}
	return ast.TimeOfDay{}, false
}

func toUUID(v any) (uuid.UUID, bool) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, true
	case string:
		u, err := uuid.Parse(x)
		return u, err == nil
	}
	return uuid.UUID{}, false
}

func convertValue(v any, target ast.Kind) any {
	if v == nil {
		return nil
	}
	switch target {
	case ast.KindInt, ast.KindFloat, ast.KindDecimal:
		if d, ok := toNumber(v); ok {
			return d
		}
	case ast.KindString:
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprint(v)
	case ast.KindDateTime, ast.KindDateTimeOffset:
		if t, ok := toTime(v); ok {
			return t
		}
	case ast.KindDate:
		if d, ok := toDate(v); ok {
			return d
		}
	case ast.KindTime:
		if t, ok := toTimeOfDay(v); ok {
			return t
		}
	case ast.KindGUID:
		if u, ok := toUUID(v); ok {
			return u
		}
	}
	return v
}

// CompareOrdering compares two sources by an ordering list. Nulls sort first.
func CompareOrdering(a, b FieldSource, keys []Ordering) int {
	for _, k := range keys {
		m, ok := k.Key.(*ast.MemberAccess)
		if !ok {
			continue
		}
		p, _ := m.Path()
		av, _ := a.Field(p)
		bv, _ := b.Field(p)
		var c int
		switch {
		case av == nil && bv == nil:
		case av == nil:
			c = -1
		case bv == nil:
			c = 1
		default:
			c, _ = Compare(av, bv)
		}
		if k.Direction == Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}
