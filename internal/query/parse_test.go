package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

func TestParseFilterRoundTrip(t *testing.T) {
	filters := []string{
		"((age gt 42) and (age lt 100))",
		"done",
		"not(done)",
		"(done eq true)",
		"((name eq 'a') or (name ne null))",
		"(name eq 'O''Brien')",
		"(((age add 1) mod 2) gt 0)",
		"(age gt -5)",
		"(-age lt 0)",
		"(ratio gt 3.0)",
		"(price ge 9.99M)",
		"(createdAt gt cast(2024-03-01T11:30:00.250Z,Edm.DateTimeOffset))",
		"(birthday eq cast(2000-01-02,Edm.Date))",
		"(alarm lt cast(07:30:00,Edm.TimeOfDay))",
		"(ownerId eq cast(3f2504e0-4f89-11d3-9a0c-0305e82c3301,Edm.Guid))",
		"(year(createdAt) eq 2024)",
		"(ceiling(price) eq 10M)",
		"(concat(concat(name,'-'),name) eq 'a-a')",
		"(name in ('a','b'))",
		"(address/city eq 'Lyon')",
		"startswith(tolower(name),tolower('abc'))",
		"(substring(name,1,2) eq 'bc')",
	}
	for _, f := range filters {
		t.Run(f, func(t *testing.T) {
			n, err := ParseFilter(f)
			require.NoError(t, err)
			out, err := Format(n)
			require.NoError(t, err)
			assert.Equal(t, f, out)
		})
	}
}

func TestParseFilterCompiledOutput(t *testing.T) {
	pred := ast.And(
		ast.Ge(ast.Field("updatedAt", ast.KindDateTimeOffset), ast.Const(time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC))),
		ast.StartsWith(ast.Field("title", ast.KindString), ast.Const("it's"), ast.OrdinalIgnoreCase),
	)
	compiled, err := CompileFilter(pred)
	require.NoError(t, err)

	parsed, err := ParseFilter(compiled)
	require.NoError(t, err)
	again, err := Format(parsed)
	require.NoError(t, err)
	assert.Equal(t, compiled, again)
}

func TestParseFilterPrecedence(t *testing.T) {
	n, err := ParseFilter("a eq 1 or b eq 2 and c eq 3")
	require.NoError(t, err)
	out, err := Format(n)
	require.NoError(t, err)
	assert.Equal(t, "((a eq 1) or ((b eq 2) and (c eq 3)))", out)

	n, err = ParseFilter("x add 2 mul 3 gt 7")
	require.NoError(t, err)
	out, err = Format(n)
	require.NoError(t, err)
	assert.Equal(t, "((x add (2 mul 3)) gt 7)", out)
}

func TestParseFilterSystemFieldKinds(t *testing.T) {
	n, err := ParseFilter("deleted")
	require.NoError(t, err)
	assert.Equal(t, ast.KindBool, n.Type())

	n, err = ParseFilter("updatedAt")
	require.NoError(t, err)
	assert.Equal(t, ast.KindDateTimeOffset, n.Type())
}

func TestParseFilterErrors(t *testing.T) {
	for _, f := range []string{
		"age gt",
		"(age gt 1",
		"'unterminated",
		"frobnicate(name)",
		"startswith(name)",
		"name in (age)",
		"cast(1,Edm.Nope)",
		"age gt 1 extra",
	} {
		t.Run(f, func(t *testing.T) {
			_, err := ParseFilter(f)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, ParamFilter, se.Param)
		})
	}
}

func TestParseQuery(t *testing.T) {
	raw := "$filter=" + Escape("(age gt 1)") +
		"&$orderby=" + Escape("updatedAt,id desc") +
		"&$skip=3&$top=5&$count=true&__includedeleted=true&__cursor=abc" +
		"&$select=" + Escape("id,name") +
		"&tenant=acme&__unknown=1"
	d, err := ParseQuery(raw)
	require.NoError(t, err)

	f, err := Format(d.Filter)
	require.NoError(t, err)
	assert.Equal(t, "(age gt 1)", f)
	require.Len(t, d.Ordering, 2)
	assert.Equal(t, Descending, d.Ordering[1].Direction)
	assert.Equal(t, 3, d.Skip)
	assert.Equal(t, 5, d.Top)
	assert.True(t, d.RequestTotalCount)
	assert.True(t, d.IncludeDeleted)
	assert.Equal(t, "abc", d.Cursor)
	assert.Equal(t, []string{"id", "name"}, d.Selection)
	assert.Equal(t, map[string]string{"tenant": "acme"}, d.Parameters)

	qs, err := d.QueryString()
	require.NoError(t, err)
	assert.Equal(t, "$filter=%28age%20gt%201%29&$orderby=updatedAt%2Cid%20desc&$skip=3&$top=5"+
		"&$select=id%2Cname&$count=true&__includedeleted=true&__cursor=abc&tenant=acme", qs)
}

func TestParseQueryErrors(t *testing.T) {
	for _, raw := range []string{
		"$expand=x",
		"$skip=-1",
		"$top=abc",
		"$count=maybe",
		"$orderby=" + Escape("name sideways"),
	} {
		_, err := ParseQuery(raw)
		var se *SyntaxError
		assert.ErrorAs(t, err, &se, raw)
	}
}
