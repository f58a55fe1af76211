package dqi_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/dqrunner/internal/dqi"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		log  models.ExecutionLog
		want float64
	}{
		{
			name: "nil log",
			log:  nil,
			want: 0,
		},
		{
			name: "count check",
			log:  models.ExecutionLog{"src_count": int64(100), "dest_count": int64(90), "difference": int64(10)},
			want: 94.74,
		},
		{
			name: "validation payload",
			log: models.ExecutionLog{
				"src_count": 50, "dest_count": 50,
				"src_to_dest_count": 5, "dest_to_src_count": 5,
				"source_execution_log": nil, "dest_execution_log": "[]",
			},
			want: 90,
		},
		{
			name: "null check across columns",
			log: models.ExecutionLog{
				"total_count": int64(10), "null_count": int64(3),
				"columns": map[string]any{"id": int64(0), "email": int64(3)},
			},
			want: 85,
		},
		{
			name: "duplicate check",
			log:  models.ExecutionLog{"total_count": int64(20), "duplicate_count": int64(3), "duplicates": []any{}},
			want: 85,
		},
		{
			name: "ddl check",
			log:  models.ExecutionLog{"total_columns": 4, "mismatched_columns": 3},
			want: 25,
		},
		{
			name: "error payload",
			log:  models.ExecutionLog{"error": "boom"},
			want: 0,
		},
		{
			name: "empty population with findings",
			log:  models.ExecutionLog{"total_count": 0, "duplicate_count": 2},
			want: 0,
		},
		{
			name: "clamped at zero",
			log:  models.ExecutionLog{"total_columns": 2, "mismatched_columns": 5},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, dqi.Score(tt.log), 0.001)
		})
	}
}

func TestScore_DecodedJSONNumbers(t *testing.T) {
	var log models.ExecutionLog
	require.NoError(t, json.Unmarshal([]byte(`{"src_count": 3, "dest_count": 1, "difference": 2}`), &log))

	assert.InDelta(t, 50.0, dqi.Score(log), 0.001)
}

func TestFormula_Calculate(t *testing.T) {
	var calc dqi.Calculator = dqi.Formula{}

	got, err := calc.Calculate(context.Background(),
		models.ExecutionLog{"total_count": int64(4), "duplicate_count": int64(1)}, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 75.0, got)
}
