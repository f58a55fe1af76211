// Package check implements the synchronous data-quality checks run against
// source and target databases. Every strategy returns a models.CheckResult:
// a pass carries a nil log, a fail carries a class-specific log.
package check

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// ErrNoColumns is returned when a check needs columns and none could be resolved.
var ErrNoColumns = errors.New("no columns to check")

// maxDuplicateSamples caps the duplicate groups copied into a fail log.
const maxDuplicateSamples = 100

// Conn is an open handle together with the dialect it speaks.
type Conn struct {
	DB     *sql.DB
	DBType string
}

// Checker runs the four synchronous strategies. Implemented by Strategies.
type Checker interface {
	Count(ctx context.Context, src, tgt Conn, srcTable, tgtTable string, query models.QueryOverride) (models.CheckResult, error)
	Null(ctx context.Context, tgt *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error)
	Duplicate(ctx context.Context, tgt *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error)
	DDL(ctx context.Context, src, tgt *sql.DB, srcTable, tgtTable, srcType, tgtType string) (models.CheckResult, error)
}

// Strategies is the database/sql implementation of Checker. Zero value is ready to use.
type Strategies struct{}

func (Strategies) Count(ctx context.Context, src, tgt Conn, srcTable, tgtTable string, query models.QueryOverride) (models.CheckResult, error) {
	return Count(ctx, src, tgt, srcTable, tgtTable, query)
}

func (Strategies) Null(ctx context.Context, tgt *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error) {
	return Null(ctx, tgt, table, columns, query, dbType)
}

func (Strategies) Duplicate(ctx context.Context, tgt *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error) {
	return Duplicate(ctx, tgt, table, columns, query, dbType)
}

func (Strategies) DDL(ctx context.Context, src, tgt *sql.DB, srcTable, tgtTable, srcType, tgtType string) (models.CheckResult, error) {
	return DDL(ctx, src, tgt, srcTable, tgtTable, srcType, tgtType)
}

func passed() models.CheckResult {
	return models.CheckResult{Status: models.StatusPass}
}

func failed(log models.ExecutionLog) models.CheckResult {
	return models.CheckResult{Status: models.StatusFail, ExecutionLog: log}
}

func countRows(ctx context.Context, db *sql.DB, b QueryBuilder, table, query string) (int64, error) {
	var n int64
	if err := db.QueryRowContext(ctx, b.BuildCountQuery(table, query)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", describe(table, query), err)
	}
	return n, nil
}

// resolveColumns returns columns unchanged when given, otherwise the column
// names of the relation read from an empty result set.
func resolveColumns(ctx context.Context, db *sql.DB, b QueryBuilder, table, query string, columns []string) ([]string, error) {
	if len(columns) > 0 {
		return columns, nil
	}

	rows, err := db.QueryContext(ctx, b.BuildProbeQuery(table, query))
	if err != nil {
		return nil, fmt.Errorf("probe columns of %s: %w", describe(table, query), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", describe(table, query), err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%s: %w", describe(table, query), ErrNoColumns)
	}
	return cols, nil
}

func describe(table, query string) string {
	if query != "" {
		return "query override"
	}
	return fmt.Sprintf("table %q", table)
}

// normalizeValue makes scanned driver values JSON friendly.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
