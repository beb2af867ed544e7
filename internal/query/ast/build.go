package ast

import "fmt"

// Method names recognised by the compiler in source trees.
const (
	MethodStartsWith       = "StartsWith"
	MethodEndsWith         = "EndsWith"
	MethodContains         = "Contains"
	MethodEquals           = "Equals"
	MethodToLower          = "ToLower"
	MethodToLowerInvariant = "ToLowerInvariant"
	MethodToUpper          = "ToUpper"
	MethodToUpperInvariant = "ToUpperInvariant"
	MethodTrim             = "Trim"
	MethodConcat           = "Concat"
	MethodIndexOf          = "IndexOf"
	MethodSubstring        = "Substring"
	MethodCeiling          = "Math.Ceiling"
	MethodFloor            = "Math.Floor"
	MethodRound            = "Math.Round"
)

// Field references a member of the record.
func Field(name string, kind Kind) *MemberAccess {
	return &MemberAccess{Name: name, Kind: kind}
}

// Member references a member of instance, such as a date component.
func Member(instance Node, name string, kind Kind) *MemberAccess {
	return &MemberAccess{Instance: instance, Name: name, Kind: kind}
}

// Const wraps a literal, inferring its kind.
func Const(v any) *Constant {
	k := KindOf(v)
	if k == KindList {
		return List(toAnySlice(v)...)
	}
	return &Constant{Value: v, Kind: k}
}

// TypedConst wraps a literal with an explicit kind.
func TypedConst(v any, kind Kind) *Constant {
	return &Constant{Value: v, Kind: kind}
}

// Null is the null literal.
func Null() *Constant { return &Constant{Kind: KindNull} }

// EnumConst wraps an enumeration value; it is compared by name.
func EnumConst(v fmt.Stringer) *Constant {
	return &Constant{Value: v, Kind: KindEnum}
}

// List wraps a set of literals for membership tests.
func List(values ...any) *Constant {
	items := make([]any, len(values))
	copy(items, values)
	return &Constant{Value: items, Kind: KindList}
}

func toAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	case []int:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	case []int64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return nil
}

func Binary(op Op, left, right Node) *BinaryOp {
	return &BinaryOp{Op: op, Left: left, Right: right}
}

func And(l, r Node) *BinaryOp { return Binary(OpAnd, l, r) }
func Or(l, r Node) *BinaryOp  { return Binary(OpOr, l, r) }
func Eq(l, r Node) *BinaryOp  { return Binary(OpEq, l, r) }
func Ne(l, r Node) *BinaryOp  { return Binary(OpNe, l, r) }
func Gt(l, r Node) *BinaryOp  { return Binary(OpGt, l, r) }
func Ge(l, r Node) *BinaryOp  { return Binary(OpGe, l, r) }
func Lt(l, r Node) *BinaryOp  { return Binary(OpLt, l, r) }
func Le(l, r Node) *BinaryOp  { return Binary(OpLe, l, r) }
func Add(l, r Node) *BinaryOp { return Binary(OpAdd, l, r) }
func Sub(l, r Node) *BinaryOp { return Binary(OpSub, l, r) }
func Mul(l, r Node) *BinaryOp { return Binary(OpMul, l, r) }
func Div(l, r Node) *BinaryOp { return Binary(OpDiv, l, r) }
func Mod(l, r Node) *BinaryOp { return Binary(OpMod, l, r) }

func Not(n Node) *UnaryOp    { return &UnaryOp{Op: OpNot, Operand: n} }
func Negate(n Node) *UnaryOp { return &UnaryOp{Op: OpNegate, Operand: n} }

// Cast converts n to target.
func Cast(n Node, target Kind) *Convert {
	return &Convert{Source: n, Target: target}
}

// Invoke builds a call node.
func Invoke(name string, result Kind, args ...Node) *Call {
	return &Call{Name: name, Args: args, Result: result}
}

func withComparison(args []Node, cmp []StringComparison) []Node {
	if len(cmp) > 0 {
		args = append(args, &Constant{Value: cmp[0]})
	}
	return args
}

// StartsWith is recv.StartsWith(value[, cmp]).
func StartsWith(recv, value Node, cmp ...StringComparison) *Call {
	return Invoke(MethodStartsWith, KindBool, withComparison([]Node{recv, value}, cmp)...)
}

// EndsWith is recv.EndsWith(value[, cmp]).
func EndsWith(recv, value Node, cmp ...StringComparison) *Call {
	return Invoke(MethodEndsWith, KindBool, withComparison([]Node{recv, value}, cmp)...)
}

// Contains is a substring test when recv is a string, and a membership test
// when recv is a list constant.
func Contains(recv, value Node, cmp ...StringComparison) *Call {
	return Invoke(MethodContains, KindBool, withComparison([]Node{recv, value}, cmp)...)
}

// In is shorthand for List(values...).Contains(member).
func In(member Node, values ...any) *Call {
	return Invoke(MethodContains, KindBool, List(values...), member)
}

// Equals is string.Equals(a, b[, cmp]).
func Equals(a, b Node, cmp ...StringComparison) *Call {
	return Invoke(MethodEquals, KindBool, withComparison([]Node{a, b}, cmp)...)
}

func ToLower(n Node) *Call { return Invoke(MethodToLower, KindString, n) }
func ToUpper(n Node) *Call { return Invoke(MethodToUpper, KindString, n) }
func Trim(n Node) *Call    { return Invoke(MethodTrim, KindString, n) }

// Concat joins two or more strings.
func Concat(parts ...Node) *Call { return Invoke(MethodConcat, KindString, parts...) }

func Ceiling(n Node) *Call { return Invoke(MethodCeiling, n.Type(), n) }
func Floor(n Node) *Call   { return Invoke(MethodFloor, n.Type(), n) }
func Round(n Node) *Call   { return Invoke(MethodRound, n.Type(), n) }

// Year and friends read a component of a date-like member.
func Year(n Node) *MemberAccess   { return Member(n, "Year", KindInt) }
func Month(n Node) *MemberAccess  { return Member(n, "Month", KindInt) }
func Day(n Node) *MemberAccess    { return Member(n, "Day", KindInt) }
func Hour(n Node) *MemberAccess   { return Member(n, "Hour", KindInt) }
func Minute(n Node) *MemberAccess { return Member(n, "Minute", KindInt) }
func Second(n Node) *MemberAccess { return Member(n, "Second", KindInt) }

// Length is the Length property of a string.
func Length(n Node) *MemberAccess { return Member(n, "Length", KindInt) }
