// Package ast defines the expression tree shared by the query compiler, the
// wire parser and the evaluators.
//
// A tree comes in two flavours. A source tree is what application code builds
// with the constructors in this package: method calls such as StartsWith,
// property access such as Year, Convert nodes around enums. A wire tree is the
// lowered form that maps one-to-one onto the filter grammar: lower-case
// function names, casts folded into typed constants. Both use the same six
// node kinds.
package ast

import (
	"fmt"
	"strings"
)

// Op identifies the operator of a BinaryOp or UnaryOp node.
type Op int

const (
	OpAnd Op = iota + 1
	OpOr
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpIn
	OpNot
	OpNegate
)

var opKeywords = map[Op]string{
	OpAnd:    "and",
	OpOr:     "or",
	OpEq:     "eq",
	OpNe:     "ne",
	OpGt:     "gt",
	OpGe:     "ge",
	OpLt:     "lt",
	OpLe:     "le",
	OpAdd:    "add",
	OpSub:    "sub",
	OpMul:    "mul",
	OpDiv:    "div",
	OpMod:    "mod",
	OpIn:     "in",
	OpNot:    "not",
	OpNegate: "-",
}

// String returns the wire keyword of the operator.
func (o Op) String() string {
	if kw, ok := opKeywords[o]; ok {
		return kw
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// OpFromKeyword resolves a binary wire keyword.
func OpFromKeyword(kw string) (Op, bool) {
	for op, s := range opKeywords {
		if s == kw && op != OpNot && op != OpNegate {
			return op, true
		}
	}
	return 0, false
}

func (o Op) IsLogical() bool    { return o == OpAnd || o == OpOr }
func (o Op) IsComparison() bool { return o >= OpEq && o <= OpLe }
func (o Op) IsArithmetic() bool { return o >= OpAdd && o <= OpMod }

// Node is implemented by the six node kinds of the tree.
type Node interface {
	// Type reports the value kind the node evaluates to, KindUnknown when it
	// cannot be inferred.
	Type() Kind
	isNode()
}

// BinaryOp applies a two-operand operator.
type BinaryOp struct {
	Op    Op
	Left  Node
	Right Node
}

// UnaryOp applies OpNot or OpNegate.
type UnaryOp struct {
	Op      Op
	Operand Node
}

// Constant holds a literal value. Kind is set by the constructors.
type Constant struct {
	Value any
	Kind  Kind
}

// MemberAccess reads a named member. A nil Instance means the member belongs
// to the record itself.
type MemberAccess struct {
	Instance Node
	Name     string
	Kind     Kind
}

// Convert changes the static type of Source to Target.
type Convert struct {
	Source Node
	Target Kind
}

// Call invokes a named function or method. For method calls the receiver is
// Args[0].
type Call struct {
	Name   string
	Args   []Node
	Result Kind
}

func (n *BinaryOp) Type() Kind {
	switch {
	case n.Op.IsLogical(), n.Op.IsComparison(), n.Op == OpIn:
		return KindBool
	case n.Left != nil && n.Left.Type() != KindUnknown:
		return n.Left.Type()
	case n.Right != nil:
		return n.Right.Type()
	}
	return KindUnknown
}

func (n *UnaryOp) Type() Kind {
	if n.Op == OpNot {
		return KindBool
	}
	if n.Operand == nil {
		return KindUnknown
	}
	return n.Operand.Type()
}

func (n *Constant) Type() Kind     { return n.Kind }
func (n *MemberAccess) Type() Kind { return n.Kind }
func (n *Convert) Type() Kind      { return n.Target }
func (n *Call) Type() Kind         { return n.Result }

func (*BinaryOp) isNode()     {}
func (*UnaryOp) isNode()      {}
func (*Constant) isNode()     {}
func (*MemberAccess) isNode() {}
func (*Convert) isNode()      {}
func (*Call) isNode()         {}

// Path returns the slash separated member path of m, or false when some
// instance in the chain is not itself a member access.
func (m *MemberAccess) Path() (string, bool) {
	if m.Instance == nil {
		return m.Name, true
	}
	parent, ok := m.Instance.(*MemberAccess)
	if !ok {
		return "", false
	}
	p, ok := parent.Path()
	if !ok {
		return "", false
	}
	return p + "/" + m.Name, true
}

// Describe renders n in a source-like notation for error messages.
func Describe(n Node) string {
	var sb strings.Builder
	describe(&sb, n)
	return sb.String()
}

func describe(sb *strings.Builder, n Node) {
	switch v := n.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *BinaryOp:
		sb.WriteByte('(')
		describe(sb, v.Left)
		sb.WriteString(" " + v.Op.String() + " ")
		describe(sb, v.Right)
		sb.WriteByte(')')
	case *UnaryOp:
		sb.WriteString(v.Op.String())
		sb.WriteByte('(')
		describe(sb, v.Operand)
		sb.WriteByte(')')
	case *Constant:
		if s, ok := v.Value.(string); ok {
			fmt.Fprintf(sb, "%q", s)
			return
		}
		fmt.Fprintf(sb, "%v", v.Value)
	case *MemberAccess:
		if v.Instance != nil {
			describe(sb, v.Instance)
			sb.WriteByte('.')
		}
		sb.WriteString(v.Name)
	case *Convert:
		sb.WriteString("Convert(")
		describe(sb, v.Source)
		sb.WriteString(", " + v.Target.String() + ")")
	case *Call:
		sb.WriteString(v.Name)
		sb.WriteByte('(')
		for i, a := range v.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			describe(sb, a)
		}
		sb.WriteByte(')')
	default:
		fmt.Fprintf(sb, "%T", n)
	}
}
