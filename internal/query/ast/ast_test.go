package ast

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteCopiesChangedParents(t *testing.T) {
	name := Field("name", KindString)
	tree := And(Eq(name, Const("a")), Field("done", KindBool))

	out, err := Rewrite(tree, func(n Node) (Node, error) {
		if c, ok := n.(*Constant); ok && c.Value == "a" {
			return Const("b"), nil
		}
		return n, nil
	})
	require.NoError(t, err)

	assert.Equal(t, `((name eq "a") and done)`, Describe(tree))
	assert.Equal(t, `((name eq "b") and done)`, Describe(out))

	// Unchanged subtrees are shared.
	assert.Same(t, tree.Right, out.(*BinaryOp).Right)
}

func TestRewriteKeepsIdentityWhenNothingChanges(t *testing.T) {
	tree := Not(Field("done", KindBool))
	out, err := Rewrite(tree, func(n Node) (Node, error) { return n, nil })
	require.NoError(t, err)
	assert.Same(t, tree, out)
}

func TestEqual(t *testing.T) {
	a := Gt(Field("age", KindInt), Const(int32(4)))
	b := Gt(Field("age", KindUnknown), Const(int64(4)))
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, Ge(Field("age", KindInt), Const(4))))
	assert.True(t, Equal(In(Field("x", KindString), "a", "b"), In(Field("x", KindString), "a", "b")))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		v    any
		want Kind
	}{
		{nil, KindNull},
		{true, KindBool},
		{uint16(3), KindInt},
		{1.5, KindFloat},
		{decimal.NewFromInt(1), KindDecimal},
		{"s", KindString},
		{time.Now(), KindDateTimeOffset},
		{Date{Year: 2020, Month: 1, Day: 1}, KindDate},
		{TimeOfDay{Hour: 1}, KindTime},
		{uuid.New(), KindGUID},
		{[]string{"a"}, KindList},
		{struct{}{}, KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.v), "%T", tt.v)
	}
}

func TestConstFlattensSlices(t *testing.T) {
	c := Const([]int{1, 2})
	assert.Equal(t, KindList, c.Kind)
	assert.Equal(t, []any{1, 2}, c.Value)
}

func TestMemberPath(t *testing.T) {
	m := Member(Member(Field("a", KindUnknown), "b", KindUnknown), "c", KindString)
	p, ok := m.Path()
	require.True(t, ok)
	assert.Equal(t, "a/b/c", p)

	_, ok = Length(ToLower(Field("x", KindString))).Path()
	assert.False(t, ok)
}

func TestTimeOfDayString(t *testing.T) {
	assert.Equal(t, "07:05:09", TimeOfDay{Hour: 7, Minute: 5, Second: 9}.String())
	assert.Equal(t, "07:05:09.120", TimeOfDay{Hour: 7, Minute: 5, Second: 9, Nanosecond: 120_000_000}.String())

	tod, err := ParseTimeOfDay("23:59:58.5")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 23, Minute: 59, Second: 58, Nanosecond: 500_000_000}, tod)
}

func TestEdmNames(t *testing.T) {
	for _, k := range []Kind{KindDateTimeOffset, KindDate, KindTime, KindGUID, KindString, KindInt, KindFloat, KindDecimal, KindBool} {
		name, ok := k.EdmName()
		require.True(t, ok)
		back, ok := KindFromEdm(name)
		require.True(t, ok)
		assert.Equal(t, k, back)
	}
	name, _ := KindDateTime.EdmName()
	assert.Equal(t, "Edm.DateTimeOffset", name)
}

func TestAsInt64RejectsOverflow(t *testing.T) {
	i, ok := AsInt64(uint64(1 << 40))
	require.True(t, ok)
	assert.Equal(t, int64(1<<40), i)

	_, ok = AsInt64(uint64(1 << 63))
	assert.False(t, ok)
	_, ok = AsInt64("12")
	assert.False(t, ok)
}

func TestIntegral(t *testing.T) {
	age := Field("age", KindInt)
	qty := Field("qty", KindUnknown)
	tests := []struct {
		name      string
		in        Node
		is, known bool
	}{
		{"int member", age, true, true},
		{"float constant", Const(2.5), false, true},
		{"decimal constant", Const(decimal.RequireFromString("2")), false, true},
		{"untyped member", qty, false, false},
		{"int sum", Add(age, Const(1)), true, true},
		{"float poisons", Mul(qty, Const(1.5)), false, true},
		{"untyped sum", Add(qty, Const(1)), false, false},
		{"negation", Negate(age), true, true},
		{"comparison", Gt(age, Const(1)), false, true},
		{"int cast", Cast(qty, KindInt), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is, known := Integral(tt.in)
			assert.Equal(t, tt.is, is)
			assert.Equal(t, tt.known, known)
		})
	}
}
