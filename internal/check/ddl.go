package check

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

type column struct {
	Name string
	Type string
}

// DDL compares the column sets of the source and target tables. Column names
// are matched case-insensitively; types are compared only when both sides
// share a dialect, since type names are not portable across engines.
func DDL(ctx context.Context, src, tgt *sql.DB, srcTable, tgtTable, srcType, tgtType string) (models.CheckResult, error) {
	srcCols, err := describeColumns(ctx, src, QueryBuilder{Dialect: srcType}, srcTable)
	if err != nil {
		return models.CheckResult{}, err
	}
	tgtCols, err := describeColumns(ctx, tgt, QueryBuilder{Dialect: tgtType}, tgtTable)
	if err != nil {
		return models.CheckResult{}, err
	}

	compareTypes := strings.EqualFold(srcType, tgtType)

	tgtByName := make(map[string]column, len(tgtCols))
	for _, c := range tgtCols {
		tgtByName[strings.ToLower(c.Name)] = c
	}

	var (
		sourceOnly   = []string{}
		targetOnly   = []string{}
		typeMismatch = []any{}
	)
	seen := make(map[string]bool, len(srcCols))
	for _, s := range srcCols {
		key := strings.ToLower(s.Name)
		seen[key] = true
		t, ok := tgtByName[key]
		if !ok {
			sourceOnly = append(sourceOnly, s.Name)
			continue
		}
		if compareTypes && !strings.EqualFold(strings.TrimSpace(s.Type), strings.TrimSpace(t.Type)) {
			typeMismatch = append(typeMismatch, map[string]any{
				"column":      s.Name,
				"source_type": s.Type,
				"target_type": t.Type,
			})
		}
	}
	for _, t := range tgtCols {
		if !seen[strings.ToLower(t.Name)] {
			targetOnly = append(targetOnly, t.Name)
		}
	}
	sort.Strings(sourceOnly)
	sort.Strings(targetOnly)

	mismatched := len(sourceOnly) + len(targetOnly) + len(typeMismatch)
	if mismatched == 0 {
		return passed(), nil
	}
	return failed(models.ExecutionLog{
		"total_columns":      len(srcCols) + len(targetOnly),
		"mismatched_columns": mismatched,
		"source_only":        sourceOnly,
		"target_only":        targetOnly,
		"type_mismatch":      typeMismatch,
	}), nil
}

func describeColumns(ctx context.Context, db *sql.DB, b QueryBuilder, table string) ([]column, error) {
	query, args := b.BuildColumnsQuery(table)
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %q: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q: %w", table, ErrNoColumns)
	}
	return cols, nil
}
