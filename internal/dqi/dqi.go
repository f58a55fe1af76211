// Package dqi scores failed check logs as a data-quality index in [0, 100].
package dqi

import (
	"context"
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// Calculator computes the quality score of a failure log for a test case.
type Calculator interface {
	Calculate(ctx context.Context, log models.ExecutionLog, testCaseID uuid.UUID) (float64, error)
}

// Formula scores a log by recognising which check produced it.
// Zero value is ready to use.
type Formula struct{}

// Calculate implements Calculator. Logs with no recognised shape score 0.
func (Formula) Calculate(_ context.Context, log models.ExecutionLog, _ uuid.UUID) (float64, error) {
	return Score(log), nil
}

// Score applies the per-check formula to log.
func Score(log models.ExecutionLog) float64 {
	if log == nil {
		return 0
	}

	switch {
	case has(log, "src_to_dest_count", "dest_to_src_count"):
		mismatch := num(log, "src_to_dest_count") + num(log, "dest_to_src_count")
		return ratio(mismatch, num(log, "src_count")+num(log, "dest_count"))
	case has(log, "src_count", "dest_count", "difference"):
		return ratio(num(log, "difference"), num(log, "src_count")+num(log, "dest_count"))
	case has(log, "null_count", "total_count"):
		cols := 1.0
		if m, ok := log["columns"].(map[string]any); ok && len(m) > 0 {
			cols = float64(len(m))
		}
		return ratio(num(log, "null_count"), num(log, "total_count")*cols)
	case has(log, "duplicate_count", "total_count"):
		return ratio(num(log, "duplicate_count"), num(log, "total_count"))
	case has(log, "mismatched_columns", "total_columns"):
		return ratio(num(log, "mismatched_columns"), num(log, "total_columns"))
	default:
		return 0
	}
}

// ratio returns 100 × (1 − bad/total), clamped and rounded to two decimals.
// An empty population with findings scores 0; without findings it scores 100.
func ratio(bad, total float64) float64 {
	if total <= 0 {
		if bad > 0 {
			return 0
		}
		return 100
	}
	v := 100 * (1 - bad/total)
	v = math.Max(0, math.Min(100, v))
	return math.Round(v*100) / 100
}

func has(log models.ExecutionLog, keys ...string) bool {
	for _, k := range keys {
		if _, ok := log[k]; !ok {
			return false
		}
	}
	return true
}

// num reads a numeric field regardless of whether it came from a check
// (int64) or from a decoded JSON document (float64, json.Number).
func num(log models.ExecutionLog, key string) float64 {
	switch v := log[key].(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}
