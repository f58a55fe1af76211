package check

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// Duplicate finds rows of the target relation that repeat over columns.
// duplicate_count is the number of surplus rows, so a value seen three times
// contributes two.
func Duplicate(ctx context.Context, tgt *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error) {
	b := QueryBuilder{Dialect: dbType}

	cols, err := resolveColumns(ctx, tgt, b, table, query, columns)
	if err != nil {
		return models.CheckResult{}, err
	}

	rows, err := tgt.QueryContext(ctx, b.BuildDuplicateQuery(table, query, cols))
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("duplicate check on %s: %w", describe(table, query), err)
	}
	defer rows.Close()

	var (
		surplus int64
		samples []any
	)
	values := make([]any, len(cols))
	var groupCount int64
	dest := make([]any, len(cols)+1)
	for i := range values {
		dest[i] = &values[i]
	}
	dest[len(cols)] = &groupCount

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return models.CheckResult{}, fmt.Errorf("scan duplicate group: %w", err)
		}
		surplus += groupCount - 1
		if len(samples) < maxDuplicateSamples {
			key := make(map[string]any, len(cols))
			for i, c := range cols {
				key[c] = normalizeValue(values[i])
			}
			samples = append(samples, map[string]any{"values": key, "count": groupCount})
		}
	}
	if err := rows.Err(); err != nil {
		return models.CheckResult{}, fmt.Errorf("iterate duplicate groups: %w", err)
	}

	if surplus == 0 {
		return passed(), nil
	}

	total, err := countRows(ctx, tgt, b, table, query)
	if err != nil {
		return models.CheckResult{}, err
	}
	return failed(models.ExecutionLog{
		"total_count":     total,
		"duplicate_count": surplus,
		"duplicates":      samples,
	}), nil
}
