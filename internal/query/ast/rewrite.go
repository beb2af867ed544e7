package ast

import (
	"math"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
)

// RewriteFunc replaces a node whose children have already been rewritten.
type RewriteFunc func(Node) (Node, error)

// Rewrite visits n bottom-up and returns the tree built from fn's results.
// The input tree is left untouched: parents are copied whenever a child is
// replaced.
func Rewrite(n Node, fn RewriteFunc) (Node, error) {
	if n == nil {
		return nil, nil
	}
	switch v := n.(type) {
	case *BinaryOp:
		l, err := Rewrite(v.Left, fn)
		if err != nil {
			return nil, err
		}
		r, err := Rewrite(v.Right, fn)
		if err != nil {
			return nil, err
		}
		if l != v.Left || r != v.Right {
			n = &BinaryOp{Op: v.Op, Left: l, Right: r}
		}
	case *UnaryOp:
		o, err := Rewrite(v.Operand, fn)
		if err != nil {
			return nil, err
		}
		if o != v.Operand {
			n = &UnaryOp{Op: v.Op, Operand: o}
		}
	case *MemberAccess:
		if v.Instance != nil {
			inst, err := Rewrite(v.Instance, fn)
			if err != nil {
				return nil, err
			}
			if inst != v.Instance {
				n = &MemberAccess{Instance: inst, Name: v.Name, Kind: v.Kind}
			}
		}
	case *Convert:
		s, err := Rewrite(v.Source, fn)
		if err != nil {
			return nil, err
		}
		if s != v.Source {
			n = &Convert{Source: s, Target: v.Target}
		}
	case *Call:
		var args []Node
		for i, a := range v.Args {
			ra, err := Rewrite(a, fn)
			if err != nil {
				return nil, err
			}
			if ra != a && args == nil {
				args = make([]Node, len(v.Args))
				copy(args, v.Args[:i])
			}
			if args != nil {
				args[i] = ra
			}
		}
		if args != nil {
			n = &Call{Name: v.Name, Args: args, Result: v.Result}
		}
	}
	return fn(n)
}

// Walk calls fn for n and its descendants, parents first. Returning false
// skips the children of the current node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *BinaryOp:
		Walk(v.Left, fn)
		Walk(v.Right, fn)
	case *UnaryOp:
		Walk(v.Operand, fn)
	case *MemberAccess:
		Walk(v.Instance, fn)
	case *Convert:
		Walk(v.Source, fn)
	case *Call:
		for _, a := range v.Args {
			Walk(a, fn)
		}
	}
}

// Equal reports whether two trees are structurally identical. Integer and
// floating point constants compare by value regardless of their Go width.
func Equal(a, b Node) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *BinaryOp:
		y, ok := b.(*BinaryOp)
		return ok && x.Op == y.Op && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *UnaryOp:
		y, ok := b.(*UnaryOp)
		return ok && x.Op == y.Op && Equal(x.Operand, y.Operand)
	case *Constant:
		y, ok := b.(*Constant)
		return ok && x.Kind == y.Kind && ValuesEqual(x.Value, y.Value)
	case *MemberAccess:
		y, ok := b.(*MemberAccess)
		return ok && x.Name == y.Name && Equal(x.Instance, y.Instance)
	case *Convert:
		y, ok := b.(*Convert)
		return ok && x.Target == y.Target && Equal(x.Source, y.Source)
	case *Call:
		y, ok := b.(*Call)
		if !ok || x.Name != y.Name || len(x.Args) != len(y.Args) {
			return false
		}
		for i := range x.Args {
			if !Equal(x.Args[i], y.Args[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// ValuesEqual compares two constant values.
func ValuesEqual(a, b any) bool {
	if ai, ok := AsInt64(a); ok {
		bi, ok := AsInt64(b)
		return ok && ai == bi
	}
	switch x := a.(type) {
	case float32:
		return ValuesEqual(float64(x), b)
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case float32:
			return x == float64(y)
		}
		return false
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !ValuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// AsInt64 widens any Go integer to int64. Unsigned values above
// math.MaxInt64 are rejected.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
