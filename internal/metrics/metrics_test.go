package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/dqrunner/internal/metrics"
)

func TestPrometheusRecorder_RecordRun(t *testing.T) {
	r := metrics.NewPrometheusRecorder()

	r.RecordRun("countcheck", "pass", 150*time.Millisecond)
	r.RecordRun("countcheck", "pass", 50*time.Millisecond)
	r.RecordRun("nullcheck", "fail", time.Second)

	families, err := r.Registry().Gather()
	require.NoError(t, err)

	var series int
	for _, mf := range families {
		if mf.GetName() == "dqrunner_test_runs_total" {
			series = len(mf.GetMetric())
		}
	}
	assert.Equal(t, 2, series, "one series per class/status pair")
}

func TestPrometheusRecorder_Handler(t *testing.T) {
	r := metrics.NewPrometheusRecorder()
	r.RecordDQI("duplicatecheck", 85)
	r.RecordCompletion("fail")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dqrunner_dqi_percentage_count{class="duplicatecheck"} 1`)
	assert.Contains(t, string(body), `dqrunner_validation_completions_total{status="fail"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNop(t *testing.T) {
	var r metrics.Recorder = metrics.Nop{}
	assert.NotPanics(t, func() {
		r.RecordRun("ddlcheck", "error", time.Second)
		r.RecordDQI("ddlcheck", 0)
		r.RecordCompletion("pass")
	})
}
