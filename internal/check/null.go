package check

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// Null counts NULL values per column of the target relation. When columns is
// empty every column of the relation is checked.
func Null(ctx context.Context, tgt *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error) {
	b := QueryBuilder{Dialect: dbType}

	cols, err := resolveColumns(ctx, tgt, b, table, query, columns)
	if err != nil {
		return models.CheckResult{}, err
	}

	counts := make([]int64, len(cols)+1)
	dest := make([]any, len(counts))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := tgt.QueryRowContext(ctx, b.BuildNullQuery(table, query, cols)).Scan(dest...); err != nil {
		return models.CheckResult{}, fmt.Errorf("null check on %s: %w", describe(table, query), err)
	}

	total := counts[0]
	var nulls int64
	perColumn := make(map[string]any, len(cols))
	for i, c := range cols {
		perColumn[c] = counts[i+1]
		nulls += counts[i+1]
	}

	if nulls == 0 {
		return passed(), nil
	}
	return failed(models.ExecutionLog{
		"total_count": total,
		"null_count":  nulls,
		"columns":     perColumn,
	}), nil
}
