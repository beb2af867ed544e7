package query

import (
	"strings"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// Format renders a wire tree as a $filter expression.
func Format(n ast.Node) (string, error) {
	var sb strings.Builder
	if err := writeNode(&sb, n); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// CompileFilter lowers and renders a predicate.
func CompileFilter(n ast.Node) (string, error) {
	wire, err := LowerPredicate(n)
	if err != nil {
		return "", err
	}
	return Format(wire)
}

func writeNode(sb *strings.Builder, n ast.Node) error {
	switch v := n.(type) {
	case *ast.BinaryOp:
		sb.WriteByte('(')
		if err := writeNode(sb, v.Left); err != nil {
			return err
		}
		sb.WriteString(" " + v.Op.String() + " ")
		if err := writeNode(sb, v.Right); err != nil {
			return err
		}
		sb.WriteByte(')')
	case *ast.UnaryOp:
		switch v.Op {
		case ast.OpNot:
			sb.WriteString("not(")
			if err := writeNode(sb, v.Operand); err != nil {
				return err
			}
			sb.WriteByte(')')
		case ast.OpNegate:
			sb.WriteByte('-')
			return writeNode(sb, v.Operand)
		default:
			return compileErr(UnsupportedOperator, ast.Describe(v), "%s is not a unary operator", v.Op)
		}
	case *ast.Constant:
		s, err := FormatLiteral(v)
		if err != nil {
			return err
		}
		sb.WriteString(s)
	case *ast.MemberAccess:
		p, ok := v.Path()
		if !ok {
			return compileErr(UnsupportedMember, ast.Describe(v), "not a member path")
		}
		sb.WriteString(p)
	case *ast.Convert:
		name, ok := v.Target.EdmName()
		if !ok {
			return compileErr(UnsupportedConversion, ast.Describe(v), "no wire type for %s", v.Target)
		}
		sb.WriteString("cast(")
		if err := writeNode(sb, v.Source); err != nil {
			return err
		}
		sb.WriteString("," + name + ")")
	case *ast.Call:
		if !IsWireFunction(v.Name, len(v.Args)) {
			return compileErr(UnsupportedMethod, ast.Describe(v), "not in the supported function set")
		}
		sb.WriteString(v.Name)
		sb.WriteByte('(')
		for i, a := range v.Args {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeNode(sb, a); err != nil {
				return err
			}
		}
		sb.WriteByte(')')
	default:
		return compileErr(UnsupportedOperator, ast.Describe(n), "unknown node")
	}
	return nil
}
