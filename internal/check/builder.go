package check

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// QueryBuilder constructs dialect-aware SQL for the check strategies.
// All methods are pure functions with no side effects.
type QueryBuilder struct {
	Dialect string
}

// QuoteIdent quotes a single identifier, escaping embedded quote characters.
func (b QueryBuilder) QuoteIdent(ident string) string {
	switch b.Dialect {
	case models.DBTypeMySQL, models.DBTypeClickHouse:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// QuoteTable quotes a possibly schema-qualified table name part by part.
func (b QueryBuilder) QuoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = b.QuoteIdent(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

// From returns the relation a check reads: the override query as a derived
// table when present, otherwise the quoted table.
func (b QueryBuilder) From(table, query string) string {
	if q := strings.TrimSpace(query); q != "" {
		return fmt.Sprintf("(%s) AS dq_src", strings.TrimRight(q, "; \n\t"))
	}
	return b.QuoteTable(table)
}

// Placeholder returns the n-th (1-based) bind parameter marker.
func (b QueryBuilder) Placeholder(n int) string {
	if b.Dialect == models.DBTypePostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (b QueryBuilder) BuildCountQuery(table, query string) string {
	return "SELECT COUNT(*) FROM " + b.From(table, query)
}

func (b QueryBuilder) BuildProbeQuery(table, query string) string {
	return "SELECT * FROM " + b.From(table, query) + " WHERE 1=0"
}

// BuildNullQuery counts all rows and the NULLs of every column in one pass.
func (b QueryBuilder) BuildNullQuery(table, query string, columns []string) string {
	exprs := make([]string, 0, len(columns)+1)
	exprs = append(exprs, "COUNT(*)")
	for _, c := range columns {
		exprs = append(exprs, fmt.Sprintf("COALESCE(SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END), 0)", b.QuoteIdent(c)))
	}
	return "SELECT " + strings.Join(exprs, ", ") + " FROM " + b.From(table, query)
}

// BuildDuplicateQuery groups by columns and keeps groups seen more than once.
func (b QueryBuilder) BuildDuplicateQuery(table, query string, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = b.QuoteIdent(c)
	}
	cols := strings.Join(quoted, ", ")
	return fmt.Sprintf("SELECT %s, COUNT(*) AS dq_count FROM %s GROUP BY %s HAVING COUNT(*) > 1",
		cols, b.From(table, query), cols)
}

// BuildColumnsQuery returns a metadata query yielding (name, type) rows in
// ordinal order, plus its bind arguments.
func (b QueryBuilder) BuildColumnsQuery(table string) (string, []any) {
	schema, name := splitSchema(table)

	switch b.Dialect {
	case models.DBTypeSQLite:
		return "SELECT name, type FROM pragma_table_info(?) ORDER BY cid", []any{name}
	case models.DBTypeClickHouse:
		if schema == "" {
			return "SELECT name, type FROM system.columns WHERE database = currentDatabase() AND table = ? ORDER BY position", []any{name}
		}
		return "SELECT name, type FROM system.columns WHERE database = ? AND table = ? ORDER BY position", []any{schema, name}
	case models.DBTypeMySQL:
		if schema == "" {
			return "SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position", []any{name}
		}
		return "SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position", []any{schema, name}
	default:
		if schema == "" {
			schema = "public"
		}
		return fmt.Sprintf("SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = %s AND table_name = %s ORDER BY ordinal_position",
			b.Placeholder(1), b.Placeholder(2)), []any{schema, name}
	}
}

func splitSchema(table string) (schema, name string) {
	table = strings.TrimSpace(table)
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
