package check

import (
	"context"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// Count compares row counts of the source and target relations. Each side
// reads its query override when one is set.
func Count(ctx context.Context, src, tgt Conn, srcTable, tgtTable string, query models.QueryOverride) (models.CheckResult, error) {
	srcCount, err := countRows(ctx, src.DB, QueryBuilder{Dialect: src.DBType}, srcTable, deref(query.SourceQuery))
	if err != nil {
		return models.CheckResult{}, err
	}
	tgtCount, err := countRows(ctx, tgt.DB, QueryBuilder{Dialect: tgt.DBType}, tgtTable, deref(query.TargetQuery))
	if err != nil {
		return models.CheckResult{}, err
	}

	if srcCount == tgtCount {
		return passed(), nil
	}
	return failed(models.ExecutionLog{
		"src_count":  srcCount,
		"dest_count": tgtCount,
		"difference": abs(srcCount - tgtCount),
	}), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
