package query

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

type status int

func (s status) String() string {
	return [...]string{"Open", "Closed"}[s]
}

var (
	age       = ast.Field("age", ast.KindInt)
	name      = ast.Field("name", ast.KindString)
	done      = ast.Field("done", ast.KindBool)
	price     = ast.Field("price", ast.KindDecimal)
	ratio     = ast.Field("ratio", ast.KindFloat)
	createdAt = ast.Field("createdAt", ast.KindDateTimeOffset)
	birthday  = ast.Field("birthday", ast.KindDate)
	ownerID   = ast.Field("ownerId", ast.KindGUID)
	state     = ast.Field("state", ast.KindEnum)
)

func compile(t *testing.T, pred ast.Node) string {
	t.Helper()
	s, err := CompileFilter(pred)
	require.NoError(t, err)
	return s
}

func TestCompileFilter(t *testing.T) {
	guid := uuid.MustParse("3f2504e0-4f89-11d3-9a0c-0305e82c3301")
	ts := time.Date(2024, 3, 1, 12, 30, 0, 250_000_000, time.FixedZone("X", 3600))

	tests := []struct {
		name string
		pred ast.Node
		want string
	}{
		{"range", ast.And(ast.Gt(age, ast.Const(42)), ast.Lt(age, ast.Const(100))), "((age gt 42) and (age lt 100))"},
		{"bare bool", done, "done"},
		{"negated bool", ast.Not(done), "not(done)"},
		{"explicit true", ast.Eq(done, ast.Const(true)), "(done eq true)"},
		{"or", ast.Or(ast.Eq(name, ast.Const("a")), ast.Ne(name, ast.Null())), "((name eq 'a') or (name ne null))"},
		{"quote escaping", ast.Eq(name, ast.Const("O'Brien")), "(name eq 'O''Brien')"},
		{"arithmetic", ast.Gt(ast.Mod(ast.Add(age, ast.Const(1)), ast.Const(2)), ast.Const(0)), "(((age add 1) mod 2) gt 0)"},
		{"negative literal", ast.Gt(age, ast.Negate(ast.Const(5))), "(age gt -5)"},
		{"negated member", ast.Lt(ast.Negate(age), ast.Const(0)), "(-age lt 0)"},
		{"float literal", ast.Gt(ratio, ast.Const(2.0)), "(ratio gt 2.0)"},
		{"float from int", ast.Gt(ratio, ast.Const(3)), "(ratio gt 3.0)"},
		{"decimal", ast.Ge(price, ast.Const(decimal.RequireFromString("9.99"))), "(price ge 9.99M)"},
		{"decimal from int", ast.Ge(price, ast.Const(10)), "(price ge 10M)"},
		{"timestamp", ast.Gt(createdAt, ast.Const(ts)), "(createdAt gt cast(2024-03-01T11:30:00.250Z,Edm.DateTimeOffset))"},
		{"date", ast.Eq(birthday, ast.Const(ast.Date{Year: 2000, Month: time.January, Day: 2})), "(birthday eq cast(2000-01-02,Edm.Date))"},
		{"date from time", ast.Eq(birthday, ast.Const(ts)), "(birthday eq cast(2024-03-01,Edm.Date))"},
		{"guid", ast.Eq(ownerID, ast.Const(guid)), "(ownerId eq cast(3f2504e0-4f89-11d3-9a0c-0305e82c3301,Edm.Guid))"},
		{"guid from string", ast.Eq(ownerID, ast.Const(guid.String())), "(ownerId eq cast(3f2504e0-4f89-11d3-9a0c-0305e82c3301,Edm.Guid))"},
		{"enum", ast.Eq(state, ast.EnumConst(status(1))), "(state eq 'Closed')"},
		{"enum behind convert", ast.Eq(ast.Cast(state, ast.KindInt), ast.Cast(ast.EnumConst(status(0)), ast.KindInt)), "(state eq 'Open')"},
		{"year", ast.Eq(ast.Year(createdAt), ast.Const(2024)), "(year(createdAt) eq 2024)"},
		{"hour", ast.Ge(ast.Hour(createdAt), ast.Const(9)), "(hour(createdAt) ge 9)"},
		{"length", ast.Gt(ast.Length(name), ast.Const(3)), "(length(name) gt 3)"},
		{"ceiling", ast.Eq(ast.Ceiling(price), ast.Const(10)), "(ceiling(price) eq 10M)"},
		{"toupper", ast.Eq(ast.ToUpper(name), ast.Const("AB")), "(toupper(name) eq 'AB')"},
		{"concat", ast.Eq(ast.Concat(name, ast.Const("-"), name), ast.Const("a-a")), "(concat(concat(name,'-'),name) eq 'a-a')"},
		{"in", ast.In(name, "a", "b"), "(name in ('a','b'))"},
		{"nested path", ast.Eq(ast.Member(ast.Field("address", ast.KindUnknown), "city", ast.KindString), ast.Const("Lyon")), "(address/city eq 'Lyon')"},
		{"starts with", ast.StartsWith(name, ast.Const("abc")), "startswith(name,'abc')"},
		{"starts with ignore case", ast.StartsWith(name, ast.Const("abc"), ast.OrdinalIgnoreCase), "startswith(tolower(name),tolower('abc'))"},
		{"ends with ordinal", ast.EndsWith(name, ast.Const("z"), ast.Ordinal), "endswith(name,'z')"},
		{"contains substring", ast.Contains(name, ast.Const("mid")), "contains(name,'mid')"},
		{"equals ignore case", ast.Equals(name, ast.Const("Y"), ast.InvariantCultureIgnoreCase), "(tolower(name) eq tolower('Y'))"},
		{"equals invariant", ast.Equals(name, ast.Const("Y"), ast.InvariantCulture), "(name eq 'Y')"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compile(t, tt.pred))
		})
	}
}

func TestCompileFilterUnsupported(t *testing.T) {
	tests := []struct {
		name string
		pred ast.Node
		kind ErrorKind
	}{
		{"arbitrary method", ast.Invoke("Normalize", ast.KindString, name), UnsupportedMethod},
		{"current culture", ast.StartsWith(name, ast.Const("a"), ast.CurrentCultureIgnoreCase), UnsupportedMethod},
		{"round with digits", ast.Eq(ast.Invoke(ast.MethodRound, ast.KindDecimal, price, ast.Const(2)), ast.Const(1)), UnsupportedMethod},
		{"unsupported math", ast.Gt(ast.Invoke("Math.Sqrt", ast.KindFloat, ratio), ast.Const(1.0)), UnsupportedMethod},
		{"unknown member", ast.Gt(ast.Member(name, "Chars", ast.KindInt), ast.Const(1)), UnsupportedMember},
		{"unknown constant", ast.Eq(name, ast.Const(struct{}{})), UnsupportedConstant},
		{"bool to date", ast.Eq(ast.Cast(done, ast.KindDate), birthday), UnsupportedConversion},
		{"enum vs int", ast.Eq(state, ast.Const(1)), UnsupportedConversion},
		{"non boolean filter", ast.Add(age, ast.Const(1)), InvalidArgument},
		{"missing right operand", ast.And(done, nil), InvalidArgument},
		{"missing left operand", ast.Gt(nil, ast.Const(1)), InvalidArgument},
		{"missing not operand", ast.Not(nil), InvalidArgument},
		{"uint64 overflow", ast.Gt(age, ast.Const(uint64(math.MaxUint64))), UnsupportedConstant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileFilter(tt.pred)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupported))
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.kind, ce.Kind)
		})
	}
}

func TestUnsupportedErrorNamesTheCall(t *testing.T) {
	_, err := CompileFilter(ast.Invoke("Normalize", ast.KindBool, name))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Normalize(name)")
}

func TestLowerDoesNotMutateSource(t *testing.T) {
	pred := ast.StartsWith(name, ast.Const("a"), ast.OrdinalIgnoreCase)
	before := ast.Describe(pred)
	_, err := Lower(pred)
	require.NoError(t, err)
	assert.Equal(t, before, ast.Describe(pred))
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0:       "0.0",
		1:       "1.0",
		-2.5:    "-2.5",
		1e21:    "1.0e+21",
		1.5e-9:  "1.5e-09",
		123.456: "123.456",
	}
	for in, want := range tests {
		got, err := formatFloat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %v", in)
	}
}

func TestBuilderQueryString(t *testing.T) {
	qs, err := NewBuilder().
		Where(ast.Gt(age, ast.Const(42))).
		Where(ast.Lt(age, ast.Const(100))).
		QueryString()
	require.NoError(t, err)
	assert.Equal(t, "$filter="+Escape("((age gt 42) and (age lt 100))"), qs)
}

func TestBuilderOrdering(t *testing.T) {
	d, err := NewBuilder().OrderBy(name).ThenByDescending(age).Build()
	require.NoError(t, err)
	params, err := d.Params()
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, Param{ParamOrderBy, "name,age desc"}, params[0])

	d, err = NewBuilder().OrderBy(name).ThenBy(age).OrderByDescending(createdAt).Build()
	require.NoError(t, err)
	o, err := CompileOrdering(d.Ordering)
	require.NoError(t, err)
	assert.Equal(t, "createdAt desc", o)
}

func TestBuilderOrderingRejectsComputedKeys(t *testing.T) {
	_, err := NewBuilder().OrderBy(ast.ToLower(name)).QueryString()
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, UnsupportedOrdering, ce.Kind)

	_, err = NewBuilder().OrderBy(ast.Year(createdAt)).QueryString()
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, UnsupportedOrdering, ce.Kind)
}

func TestBuilderSkipTakeLastWins(t *testing.T) {
	d, err := NewBuilder().Skip(5).Skip(7).Take(10).Take(3).Build()
	require.NoError(t, err)
	assert.Equal(t, 7, d.Skip)
	assert.Equal(t, 3, d.Top)

	qs, err := d.QueryString()
	require.NoError(t, err)
	assert.Equal(t, "$skip=7&$top=3", qs)
}

func TestBuilderArgumentErrors(t *testing.T) {
	_, err := NewBuilder().Skip(-1).Build()
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewBuilder().Take(0).Build()
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewBuilder().WithParameter("$expand", "x").Build()
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewBuilder().WithParameter("__secret", "x").Build()
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestQueryStringFieldOrder(t *testing.T) {
	qs, err := NewBuilder().
		WithParameter("zeta", "last one").
		WithParameter("alpha", "a&b").
		IncludeTotalCount().
		IncludeDeletedItems().
		Select("name", "age").
		Take(20).
		Skip(40).
		OrderBy(name).
		Where(ast.StartsWith(name, ast.Const("x"))).
		QueryString()
	require.NoError(t, err)
	want := "$filter=startswith%28name%2C%27x%27%29" +
		"&$orderby=name" +
		"&$skip=40" +
		"&$top=20" +
		"&$select=name%2Cage" +
		"&$count=true" +
		"&__includedeleted=true" +
		"&alpha=a%26b" +
		"&zeta=last%20one"
	assert.Equal(t, want, qs)
}

func TestQueryStringDeterministic(t *testing.T) {
	build := func() string {
		qs, err := NewBuilder().
			Where(ast.And(ast.Eq(state, ast.EnumConst(status(0))), ast.In(name, "a", "b"))).
			OrderBy(createdAt).
			WithParameter("b", "2").
			WithParameter("a", "1").
			WithParameter("c", "3").
			QueryString()
		require.NoError(t, err)
		return qs
	}
	first := build()
	for range 20 {
		assert.Equal(t, first, build())
	}
}

func TestBuilderDoesNotShareState(t *testing.T) {
	b := NewBuilder().Where(ast.Gt(age, ast.Const(1))).WithParameter("k", "v")
	d1, err := b.Build()
	require.NoError(t, err)
	b.WithParameter("k", "changed").Select("x")
	assert.Equal(t, "v", d1.Parameters["k"])
	assert.Empty(t, d1.Selection)

	d2, err := From(d1).Skip(3).Build()
	require.NoError(t, err)
	assert.Equal(t, 0, d1.Skip)
	assert.Equal(t, 3, d2.Skip)
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a-b_c.d~e", Escape("a-b_c.d~e"))
	assert.Equal(t, "%28x%20eq%20%27%C3%A9%27%29", Escape("(x eq 'é')"))
	assert.Equal(t, "1%2B1", Escape("1+1"))
}
