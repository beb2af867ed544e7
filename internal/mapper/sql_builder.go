package mapper

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Dialect selects the SQL flavour of the local store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectFirebird Dialect = "firebirdsql"
)

// TimeLayout is how timestamps are stored in text columns. It is fixed width
// so lexical order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLBuilder generates the statements of the local store. Keys are always
// sorted so the same row produces the same SQL.
type SQLBuilder struct {
	dialect Dialect
}

func NewSQLBuilder(dialect Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: dialect}
}

func (b *SQLBuilder) Dialect() Dialect { return b.dialect }

// ident standardizes to uppercase on Firebird to prevent case-sensitivity issues.
func (b *SQLBuilder) ident(name string) string {
	if b.dialect == DialectFirebird {
		return strings.ToUpper(name)
	}
	return name
}

func sortedKeys(data map[string]any) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildUpsert inserts row or, when a row with the same key columns exists,
// overwrites it.
func (b *SQLBuilder) BuildUpsert(tableName string, keyColumns []string, row map[string]any) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("no data provided for upsert on table %s", tableName)
	}
	for _, k := range keyColumns {
		if _, ok := row[k]; !ok {
			return "", nil, fmt.Errorf("key column %s missing in row for table %s", k, tableName)
		}
	}

	keys := sortedKeys(row)
	columns := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		columns[i] = b.ident(k)
		placeholders[i] = "?"
		args[i] = b.formatValue(row[k])
	}

	matching := make([]string, len(keyColumns))
	for i, k := range keyColumns {
		matching[i] = b.ident(k)
	}

	if b.dialect == DialectFirebird {
		query := fmt.Sprintf(
			"UPDATE OR INSERT INTO %s (%s) VALUES (%s) MATCHING (%s)",
			b.ident(tableName),
			strings.Join(columns, ", "),
			strings.Join(placeholders, ", "),
			strings.Join(matching, ", "),
		)
		return query, args, nil
	}

	var sets []string
	for _, c := range columns {
		if !containsFold(matching, c) {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		tableName,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(matching, ", "),
		conflict,
	)
	return query, args, nil
}

// BuildUpdate generates an UPDATE of set for the rows matching where.
func (b *SQLBuilder) BuildUpdate(tableName string, set, where map[string]any) (string, []any, error) {
	if len(set) == 0 {
		return "", nil, fmt.Errorf("no data provided for update on table %s", tableName)
	}

	var setClauses []string
	var args []any
	for _, k := range sortedKeys(set) {
		setClauses = append(setClauses, fmt.Sprintf("%s = ?", b.ident(k)))
		args = append(args, b.formatValue(set[k]))
	}
	cond, condArgs := b.conditions(where)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", b.ident(tableName), strings.Join(setClauses, ", "), cond)
	return query, append(args, condArgs...), nil
}

// BuildDelete removes the rows matching where. An empty where is rejected.
func (b *SQLBuilder) BuildDelete(tableName string, where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, fmt.Errorf("refusing unconditional delete on table %s", tableName)
	}
	cond, args := b.conditions(where)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", b.ident(tableName), cond), args, nil
}

func (b *SQLBuilder) conditions(where map[string]any) (string, []any) {
	if len(where) == 0 {
		return "1 = 1", nil
	}
	var parts []string
	var args []any
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s = ?", b.ident(k)))
		args = append(args, b.formatValue(where[k]))
	}
	return strings.Join(parts, " AND "), args
}

// formatValue maps Go values onto column types both dialects accept: booleans
// become smallints and timestamps fixed width UTC text.
func (b *SQLBuilder) formatValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	case time.Time:
		return val.UTC().Format(TimeLayout)
	default:
		return val
	}
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
