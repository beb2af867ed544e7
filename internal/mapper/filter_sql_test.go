package mapper

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-datasync/internal/query"
	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

func TestFilterBuilderWhere(t *testing.T) {
	age := ast.Field("age", ast.KindInt)
	name := ast.Field("name", ast.KindString)
	updatedAt := ast.Field("updatedAt", ast.KindDateTimeOffset)

	tests := []struct {
		name string
		in   ast.Node
		sql  string
		args []any
	}{
		{
			name: "nil filter",
			in:   nil,
			sql:  "TRUE",
		},
		{
			name: "json numeric comparison",
			in:   ast.And(ast.Gt(age, ast.Const(42)), ast.Lt(age, ast.Const(100))),
			sql:  "((((data #>> '{age}'))::numeric > $1::bigint) AND (((data #>> '{age}'))::numeric < $2::bigint))",
			args: []any{int64(42), int64(100)},
		},
		{
			name: "json text comparison",
			in:   ast.Eq(name, ast.Const("x")),
			sql:  "((data #>> '{name}') = $1::text)",
			args: []any{"x"},
		},
		{
			name: "system column",
			in:   ast.Eq(ast.Field("deleted", ast.KindBool), ast.Const(false)),
			sql:  "(deleted = $1::boolean)",
			args: []any{false},
		},
		{
			name: "null comparison",
			in:   ast.Ne(ast.Field("note", ast.KindString), ast.Null()),
			sql:  "((data #>> '{note}') IS NOT NULL)",
		},
		{
			name: "bare boolean member",
			in:   ast.Field("done", ast.KindBool),
			sql:  "((data #>> '{done}'))::boolean",
		},
		{
			name: "nested member",
			in:   ast.Eq(ast.Member(ast.Field("address", ast.KindUnknown), "city", ast.KindString), ast.Const("Lisbon")),
			sql:  "((data #>> '{address,city}') = $1::text)",
			args: []any{"Lisbon"},
		},
		{
			name: "startswith",
			in:   ast.Invoke(query.FnStartsWith, ast.KindBool, ast.Invoke(query.FnToLower, ast.KindString, name), ast.Const("ab")),
			sql:  "starts_with(lower((data #>> '{name}')), $1::text)",
			args: []any{"ab"},
		},
		{
			name: "in list",
			in:   ast.Binary(ast.OpIn, ast.Field("status", ast.KindString), ast.List("a", "b")),
			sql:  "((data #>> '{status}') IN ($1::text, $2::text))",
			args: []any{"a", "b"},
		},
		{
			name: "empty in list",
			in:   ast.Binary(ast.OpIn, ast.Field("status", ast.KindString), ast.List()),
			sql:  "FALSE",
		},
		{
			name: "date part",
			in:   ast.Eq(ast.Invoke(query.FnYear, ast.KindInt, updatedAt), ast.Const(2024)),
			sql:  "(EXTRACT(YEAR FROM (updated_at AT TIME ZONE 'UTC')) = $1::bigint)",
			args: []any{int64(2024)},
		},
		{
			name: "not",
			in:   ast.Not(ast.Invoke(query.FnContains, ast.KindBool, name, ast.Const("z"))),
			sql:  "(NOT (strpos((data #>> '{name}'), $1::text) > 0))",
			args: []any{"z"},
		},
		{
			name: "timestamp watermark",
			in:   ast.Ge(updatedAt, ast.Const(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))),
			sql:  "(updated_at >= $1::timestamptz)",
			args: []any{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFilterBuilder(RecordColumns)
			sql, err := b.Where(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, b.Args())
		})
	}
}

func TestFilterBuilderArithmetic(t *testing.T) {
	age := ast.Field("age", ast.KindInt)
	price := ast.Field("price", ast.KindFloat)
	qty := ast.Field("qty", ast.KindUnknown)

	tests := []struct {
		name string
		in   ast.Node
		sql  string
		args []any
	}{
		{
			name: "float division keeps the fraction",
			in:   ast.Eq(ast.Div(price, ast.Const(2.0)), ast.Const(2.5)),
			sql:  "((((data #>> '{price}'))::numeric / NULLIF($1::float8, 0)) = $2::float8)",
			args: []any{2.0, 2.5},
		},
		{
			name: "decimal divisor keeps the fraction",
			in:   ast.Eq(ast.Div(age, ast.Const(decimal.RequireFromString("2"))), ast.Const(2.5)),
			sql:  "((((data #>> '{age}'))::numeric / NULLIF($1::numeric, 0)) = $2::float8)",
			args: []any{"2", 2.5},
		},
		{
			name: "integer division truncates",
			in:   ast.Eq(ast.Div(age, ast.Const(2)), ast.Const(2)),
			sql:  "(trunc(((data #>> '{age}'))::numeric / NULLIF($1::bigint, 0)) = $2::bigint)",
			args: []any{int64(2), int64(2)},
		},
		{
			name: "untyped dividend decides at run time",
			in:   ast.Gt(ast.Div(qty, ast.Const(2)), ast.Const(1)),
			sql: "((CASE WHEN scale(((data #>> '{qty}'))::numeric) = 0 " +
				"THEN trunc(((data #>> '{qty}'))::numeric / NULLIF($1::bigint, 0)) " +
				"ELSE (((data #>> '{qty}'))::numeric / NULLIF($1::bigint, 0)) END) > $2::bigint)",
			args: []any{int64(2), int64(1)},
		},
		{
			name: "modulo by zero is null",
			in:   ast.Eq(ast.Mod(age, ast.Const(7)), ast.Const(1)),
			sql:  "((((data #>> '{age}'))::numeric % NULLIF($1::bigint, 0)) = $2::bigint)",
			args: []any{int64(7), int64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFilterBuilder(RecordColumns)
			sql, err := b.Where(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, sql)
			assert.Equal(t, tt.args, b.Args())
		})
	}
}

func TestFilterBuilderNumbersAfterExistingArgs(t *testing.T) {
	b := NewFilterBuilder(RecordColumns, "todos")
	sql, err := b.Where(ast.Eq(ast.Field("id", ast.KindString), ast.Const("a")))
	require.NoError(t, err)
	assert.Equal(t, "(id = $2::text)", sql)
	assert.Equal(t, []any{"todos", "a"}, b.Args())
}

func TestFilterBuilderRejectsUnknownFunction(t *testing.T) {
	b := NewFilterBuilder(RecordColumns)
	_, err := b.Where(ast.Invoke("soundex", ast.KindBool, ast.Field("name", ast.KindString)))
	require.Error(t, err)
}

func TestFilterBuilderOrderBy(t *testing.T) {
	b := NewFilterBuilder(RecordColumns)
	sql, err := b.OrderBy([]query.Ordering{
		{Key: ast.Field("updatedAt", ast.KindDateTimeOffset)},
		{Key: ast.Field("title", ast.KindString), Direction: query.Descending},
		{Key: ast.Field("id", ast.KindString)},
	})
	require.NoError(t, err)
	assert.Equal(t, "updated_at ASC NULLS FIRST, (data #>> '{title}') DESC NULLS LAST, id ASC NULLS FIRST", sql)

	_, err = b.OrderBy([]query.Ordering{{Key: ast.Const(1)}})
	assert.Error(t, err)
}
