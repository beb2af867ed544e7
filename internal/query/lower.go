package query

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// Lower rewrites a source tree into a wire tree. Every node of the result maps
// directly onto the filter grammar; anything that cannot is reported as a
// *CompileError.
func Lower(n ast.Node) (ast.Node, error) {
	if n == nil {
		return nil, nil
	}
	return ast.Rewrite(n, lowerNode)
}

// LowerPredicate lowers a filter and checks that it is boolean valued.
func LowerPredicate(n ast.Node) (ast.Node, error) {
	out, err := Lower(n)
	if err != nil {
		return nil, err
	}
	if k := out.Type(); k != ast.KindBool && k != ast.KindUnknown {
		return nil, compileErr(InvalidArgument, ast.Describe(n), "filter evaluates to %s, not bool", k)
	}
	return out, nil
}

// LowerOrderingKey lowers an ordering key. Only direct member access is allowed.
func LowerOrderingKey(n ast.Node) (*ast.MemberAccess, error) {
	out, err := Lower(n)
	if err != nil {
		return nil, err
	}
	m, ok := out.(*ast.MemberAccess)
	if !ok {
		return nil, compileErr(UnsupportedOrdering, ast.Describe(n), "only member access can be ordered on")
	}
	if _, ok := m.Path(); !ok {
		return nil, compileErr(UnsupportedOrdering, ast.Describe(n), "ordering key is not a member path")
	}
	return m, nil
}

func lowerNode(n ast.Node) (ast.Node, error) {
	switch v := n.(type) {
	case *ast.Constant:
		return lowerConstant(v)
	case *ast.MemberAccess:
		return lowerMember(v)
	case *ast.Convert:
		return lowerConvert(v)
	case *ast.UnaryOp:
		return lowerUnary(v)
	case *ast.BinaryOp:
		return lowerBinary(v)
	case *ast.Call:
		return lowerCall(v)
	}
	return nil, compileErr(UnsupportedOperator, fmt.Sprintf("%T", n), "unknown node")
}

func lowerConstant(c *ast.Constant) (ast.Node, error) {
	// Consumed by the enclosing string method.
	if _, ok := c.Value.(ast.StringComparison); ok {
		return c, nil
	}
	switch c.Kind {
	case ast.KindUnknown:
		return nil, compileErr(UnsupportedConstant, ast.Describe(c), "value of type %T", c.Value)
	case ast.KindInt:
		if _, ok := ast.AsInt64(c.Value); !ok {
			return nil, compileErr(UnsupportedConstant, ast.Describe(c), "%v overflows a 64-bit integer", c.Value)
		}
	case ast.KindFloat:
		if f, ok := toFloat(c.Value); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
			return nil, compileErr(UnsupportedConstant, ast.Describe(c), "non-finite number")
		}
	case ast.KindEnum:
		switch c.Value.(type) {
		case fmt.Stringer, string:
		default:
			return nil, compileErr(UnsupportedConstant, ast.Describe(c), "enumeration value %T has no name", c.Value)
		}
	case ast.KindList:
		items, _ := c.Value.([]any)
		for _, it := range items {
			k := ast.KindOf(it)
			if k == ast.KindUnknown || k == ast.KindList {
				if _, ok := it.(fmt.Stringer); !ok {
					return nil, compileErr(UnsupportedConstant, ast.Describe(c), "list element of type %T", it)
				}
			}
		}
	}
	return c, nil
}

func lowerMember(m *ast.MemberAccess) (ast.Node, error) {
	if m.Instance == nil {
		return m, nil
	}
	k := m.Instance.Type()
	switch m.Name {
	case "Year", "Month", "Day":
		if k == ast.KindDateTime || k == ast.KindDateTimeOffset || k == ast.KindDate {
			return wireCall(componentFunc(m.Name), m.Instance), nil
		}
	case "Hour", "Minute", "Second":
		if k == ast.KindDateTime || k == ast.KindDateTimeOffset || k == ast.KindTime {
			return wireCall(componentFunc(m.Name), m.Instance), nil
		}
	case "Length":
		if k == ast.KindString {
			return wireCall(FnLength, m.Instance), nil
		}
	}
	// Nested members of complex fields stay as paths.
	if parent, ok := m.Instance.(*ast.MemberAccess); ok && parent.Kind == ast.KindUnknown {
		if _, ok := m.Path(); ok {
			return m, nil
		}
	}
	return nil, compileErr(UnsupportedMember, ast.Describe(m), "member %s of a %s value", m.Name, k)
}

func componentFunc(name string) string {
	switch name {
	case "Year":
		return FnYear
	case "Month":
		return FnMonth
	case "Day":
		return FnDay
	case "Hour":
		return FnHour
	case "Minute":
		return FnMinute
	}
	return FnSecond
}

func lowerConvert(c *ast.Convert) (ast.Node, error) {
	src := c.Source
	sk := src.Type()
	switch {
	case sk == c.Target:
		return src, nil
	case sk == ast.KindEnum, c.Target == ast.KindEnum:
		// Enums travel by name; the underlying integer never reaches the wire.
		return src, nil
	case isConstant(src):
		return coerceConstant(src.(*ast.Constant), c.Target)
	case sk.IsNumeric() && c.Target.IsNumeric():
		return src, nil
	case isTimestamp(sk) && isTimestamp(c.Target):
		return src, nil
	case sk == ast.KindUnknown:
		return src, nil
	}
	return nil, compileErr(UnsupportedConversion, ast.Describe(c), "%s to %s", sk, c.Target)
}

func isTimestamp(k ast.Kind) bool {
	return k == ast.KindDateTime || k == ast.KindDateTimeOffset
}

func isConstant(n ast.Node) bool {
	_, ok := n.(*ast.Constant)
	return ok
}

// coerceConstant converts a literal so it renders as target.
func coerceConstant(c *ast.Constant, target ast.Kind) (*ast.Constant, error) {
	if c.Kind == ast.KindNull || c.Kind == target {
		return c, nil
	}
	fail := func() (*ast.Constant, error) {
		return nil, compileErr(UnsupportedConversion, ast.Describe(c), "%s literal to %s", c.Kind, target)
	}
	switch target {
	case ast.KindInt:
		if i, ok := ast.AsInt64(c.Value); ok {
			return ast.TypedConst(i, target), nil
		}
		if d, ok := c.Value.(decimal.Decimal); ok && d.IsInteger() {
			return ast.TypedConst(d.IntPart(), target), nil
		}
	case ast.KindFloat:
		if f, ok := toFloat(c.Value); ok {
			return ast.TypedConst(f, target), nil
		}
	case ast.KindDecimal:
		if d, ok := toDecimal(c.Value); ok {
			return ast.TypedConst(d, target), nil
		}
	case ast.KindDateTime, ast.KindDateTimeOffset:
		if t, ok := c.Value.(time.Time); ok {
			return ast.TypedConst(t, target), nil
		}
		if s, ok := c.Value.(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ast.TypedConst(t, target), nil
			}
		}
	case ast.KindDate:
		switch v := c.Value.(type) {
		case time.Time:
			return ast.TypedConst(ast.DateOf(v), target), nil
		case string:
			if d, err := ast.ParseDate(v); err == nil {
				return ast.TypedConst(d, target), nil
			}
		}
	case ast.KindTime:
		switch v := c.Value.(type) {
		case time.Time:
			return ast.TypedConst(ast.TimeOfDayOf(v), target), nil
		case string:
			if t, err := ast.ParseTimeOfDay(v); err == nil {
				return ast.TypedConst(t, target), nil
			}
		}
	case ast.KindGUID:
		if s, ok := c.Value.(string); ok {
			if u, err := uuid.Parse(s); err == nil {
				return ast.TypedConst(u, target), nil
			}
		}
	case ast.KindEnum:
		switch c.Value.(type) {
		case string, fmt.Stringer:
			return ast.TypedConst(c.Value, target), nil
		}
		return nil, compileErr(UnsupportedConversion, ast.Describe(c), "enumerations are compared by name; use ast.EnumConst")
	case ast.KindString:
		switch v := c.Value.(type) {
		case string:
			return c, nil
		case fmt.Stringer:
			return ast.TypedConst(v.String(), target), nil
		}
	}
	return fail()
}

func lowerUnary(u *ast.UnaryOp) (ast.Node, error) {
	if u.Operand == nil {
		return nil, compileErr(InvalidArgument, ast.Describe(u), "%s is missing its operand", u.Op)
	}
	k := u.Operand.Type()
	switch u.Op {
	case ast.OpNot:
		if k != ast.KindBool && k != ast.KindUnknown {
			return nil, compileErr(UnsupportedOperator, ast.Describe(u), "not applied to %s", k)
		}
		return u, nil
	case ast.OpNegate:
		if c, ok := u.Operand.(*ast.Constant); ok {
			if folded, ok := negateConstant(c); ok {
				return folded, nil
			}
		}
		if !k.IsNumeric() && k != ast.KindUnknown {
			return nil, compileErr(UnsupportedOperator, ast.Describe(u), "negation of %s", k)
		}
		return u, nil
	}
	return nil, compileErr(UnsupportedOperator, ast.Describe(u), "%s is not a unary operator", u.Op)
}

func negateConstant(c *ast.Constant) (*ast.Constant, bool) {
	if i, ok := ast.AsInt64(c.Value); ok {
		return ast.TypedConst(-i, c.Kind), true
	}
	switch v := c.Value.(type) {
	case float64:
		return ast.TypedConst(-v, c.Kind), true
	case float32:
		return ast.TypedConst(-float64(v), c.Kind), true
	case decimal.Decimal:
		return ast.TypedConst(v.Neg(), c.Kind), true
	}
	return nil, false
}

func lowerBinary(b *ast.BinaryOp) (ast.Node, error) {
	if b.Left == nil || b.Right == nil {
		return nil, compileErr(InvalidArgument, ast.Describe(b), "%s is missing an operand", b.Op)
	}
	switch {
	case b.Op.IsLogical():
		for _, side := range []ast.Node{b.Left, b.Right} {
			if k := side.Type(); k != ast.KindBool && k != ast.KindUnknown {
				return nil, compileErr(UnsupportedOperator, ast.Describe(b), "%s operand is %s", b.Op, k)
			}
		}
		return b, nil
	case b.Op.IsComparison(), b.Op.IsArithmetic():
		l, r, err := alignOperands(b)
		if err != nil {
			return nil, err
		}
		if l != b.Left || r != b.Right {
			return ast.Binary(b.Op, l, r), nil
		}
		return b, nil
	case b.Op == ast.OpIn:
		c, ok := b.Right.(*ast.Constant)
		if !ok || c.Kind != ast.KindList {
			return nil, compileErr(UnsupportedOperator, ast.Describe(b), "in requires a list literal")
		}
		return b, nil
	}
	return nil, compileErr(UnsupportedOperator, ast.Describe(b), "%s is not a binary operator", b.Op)
}

// alignOperands coerces a literal operand to the kind of the other side, so
// that a decimal member compared with 5 renders as 5M and a GUID member
// compared with a string renders as a cast.
func alignOperands(b *ast.BinaryOp) (ast.Node, ast.Node, error) {
	l, r := b.Left, b.Right
	if c, ok := r.(*ast.Constant); ok && !isConstant(l) {
		nc, err := alignConstant(b, c, l.Type())
		if err != nil {
			return nil, nil, err
		}
		r = nc
	} else if c, ok := l.(*ast.Constant); ok && !isConstant(r) {
		nc, err := alignConstant(b, c, r.Type())
		if err != nil {
			return nil, nil, err
		}
		l = nc
	}
	return l, r, nil
}

func alignConstant(b *ast.BinaryOp, c *ast.Constant, other ast.Kind) (ast.Node, error) {
	if c.Kind == ast.KindNull || c.Kind == other {
		return c, nil
	}
	switch other {
	case ast.KindEnum:
		if _, ok := ast.AsInt64(c.Value); ok {
			return nil, compileErr(UnsupportedConversion, ast.Describe(b), "enumerations are compared by name; use ast.EnumConst")
		}
		return coerceConstant(c, other)
	case ast.KindGUID, ast.KindDate, ast.KindTime:
		return coerceConstant(c, other)
	case ast.KindFloat, ast.KindDecimal:
		if c.Kind.IsNumeric() {
			return coerceConstant(c, other)
		}
	}
	return c, nil
}

func lowerCall(c *ast.Call) (ast.Node, error) {
	switch c.Name {
	case ast.MethodStartsWith, ast.MethodEndsWith:
		ops, fold, err := comparisonOperands(c, 2)
		if err != nil {
			return nil, err
		}
		name := FnStartsWith
		if c.Name == ast.MethodEndsWith {
			name = FnEndsWith
		}
		return wireCall(name, foldCase(ops[0], fold), foldCase(ops[1], fold)), nil

	case ast.MethodContains:
		if len(c.Args) > 0 {
			if list, ok := c.Args[0].(*ast.Constant); ok && list.Kind == ast.KindList {
				if len(c.Args) != 2 {
					return nil, compileErr(InvalidArgument, ast.Describe(c), "membership test takes one value")
				}
				return ast.Binary(ast.OpIn, c.Args[1], list), nil
			}
		}
		ops, fold, err := comparisonOperands(c, 2)
		if err != nil {
			return nil, err
		}
		return wireCall(FnContains, foldCase(ops[0], fold), foldCase(ops[1], fold)), nil

	case ast.MethodEquals:
		ops, fold, err := comparisonOperands(c, 2)
		if err != nil {
			return nil, err
		}
		return ast.Eq(foldCase(ops[0], fold), foldCase(ops[1], fold)), nil

	case ast.MethodToLower, ast.MethodToLowerInvariant:
		return unaryString(c, FnToLower)
	case ast.MethodToUpper, ast.MethodToUpperInvariant:
		return unaryString(c, FnToUpper)
	case ast.MethodTrim:
		return unaryString(c, FnTrim)

	case ast.MethodConcat:
		if len(c.Args) < 2 {
			return nil, compileErr(InvalidArgument, ast.Describe(c), "concat needs at least two arguments")
		}
		var acc ast.Node = c.Args[0]
		for _, a := range c.Args[1:] {
			acc = wireCall(FnConcat, acc, a)
		}
		return acc, nil

	case ast.MethodIndexOf:
		if len(c.Args) != 2 {
			return nil, compileErr(UnsupportedMethod, ast.Describe(c), "only IndexOf(string) is supported")
		}
		return wireCall(FnIndexOf, c.Args...), nil

	case ast.MethodSubstring:
		if len(c.Args) != 2 && len(c.Args) != 3 {
			return nil, compileErr(InvalidArgument, ast.Describe(c), "substring takes one or two positions")
		}
		return wireCall(FnSubstring, c.Args...), nil

	case ast.MethodCeiling, ast.MethodFloor, ast.MethodRound:
		if len(c.Args) != 1 {
			return nil, compileErr(UnsupportedMethod, ast.Describe(c), "only the single argument overload is supported")
		}
		if k := c.Args[0].Type(); !k.IsNumeric() && k != ast.KindUnknown {
			return nil, compileErr(UnsupportedMethod, ast.Describe(c), "argument is %s", k)
		}
		name := map[string]string{
			ast.MethodCeiling: FnCeiling,
			ast.MethodFloor:   FnFloor,
			ast.MethodRound:   FnRound,
		}[c.Name]
		return wireCall(name, c.Args[0]), nil
	}

	if IsWireFunction(c.Name, len(c.Args)) {
		for _, a := range c.Args {
			if _, ok := comparisonArg(a); ok {
				return nil, compileErr(InvalidArgument, ast.Describe(c), "unexpected string comparison")
			}
		}
		return c, nil
	}
	return nil, compileErr(UnsupportedMethod, ast.Describe(c), "not in the supported function set")
}

func unaryString(c *ast.Call, name string) (ast.Node, error) {
	if len(c.Args) != 1 {
		return nil, compileErr(UnsupportedMethod, ast.Describe(c), "unexpected arguments")
	}
	if k := c.Args[0].Type(); k != ast.KindString && k != ast.KindUnknown {
		return nil, compileErr(UnsupportedMethod, ast.Describe(c), "receiver is %s", k)
	}
	return wireCall(name, c.Args[0]), nil
}

func comparisonArg(n ast.Node) (ast.StringComparison, bool) {
	c, ok := n.(*ast.Constant)
	if !ok {
		return 0, false
	}
	cmp, ok := c.Value.(ast.StringComparison)
	return cmp, ok
}

// comparisonOperands splits a string method's arguments into its n operands
// and the case folding requested by an optional trailing StringComparison.
func comparisonOperands(c *ast.Call, n int) ([]ast.Node, bool, error) {
	args := c.Args
	fold := false
	if len(args) == n+1 {
		cmp, ok := comparisonArg(args[n])
		if !ok {
			return nil, false, compileErr(UnsupportedMethod, ast.Describe(c), "overload with %d arguments", len(args))
		}
		switch cmp {
		case ast.Ordinal, ast.InvariantCulture:
		case ast.OrdinalIgnoreCase, ast.InvariantCultureIgnoreCase:
			fold = true
		default:
			return nil, false, compileErr(UnsupportedMethod, ast.Describe(c), "string comparison %s", cmp)
		}
		args = args[:n]
	}
	if len(args) != n {
		return nil, false, compileErr(InvalidArgument, ast.Describe(c), "expected %d arguments, got %d", n, len(args))
	}
	for _, a := range args {
		if _, ok := comparisonArg(a); ok {
			return nil, false, compileErr(InvalidArgument, ast.Describe(c), "string comparison in operand position")
		}
	}
	return args, fold, nil
}

func foldCase(n ast.Node, fold bool) ast.Node {
	if !fold {
		return n
	}
	return wireCall(FnToLower, n)
}

func toFloat(v any) (float64, bool) {
	if i, ok := ast.AsInt64(v); ok {
		return float64(i), true
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case decimal.Decimal:
		return x.InexactFloat64(), true
	}
	return 0, false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	if i, ok := ast.AsInt64(v); ok {
		return decimal.NewFromInt(i), true
	}
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case decimal.Decimal:
		return x, true
	}
	return decimal.Decimal{}, false
}
