package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/dqrunner/internal/runner"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

type completion struct {
	status               models.ExecutionStatus
	srcCount, srcToDest  int64
	srcLog               string
	destCount, destToSrc int64
	destLog              string
	testCaseID           uuid.UUID
}

type mockCompleter struct {
	calls []completion
	err   error
}

func (m *mockCompleter) SaveCaseLogInformation(_ context.Context, caseLog *models.TestCaseLog, status models.ExecutionStatus,
	srcCount, srcToDest int64, srcLog string, destCount, destToSrc int64, destLog string, testCaseID uuid.UUID) error {
	m.calls = append(m.calls, completion{status, srcCount, srcToDest, srcLog, destCount, destToSrc, destLog, testCaseID})
	if m.err != nil {
		return m.err
	}
	caseLog.ExecutionStatus = status
	return nil
}

type mockStatusCache struct {
	statuses map[uuid.UUID]string
	err      error
}

func (m *mockStatusCache) GetCaseLogStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	if m.err != nil {
		return "", false, m.err
	}
	s, ok := m.statuses[id]
	return s, ok, nil
}

func inProgressLog() (*models.TestCaseLog, *mockLogs) {
	l := &models.TestCaseLog{ID: uuid.New(), TestCaseID: uuid.New(), ExecutionStatus: models.StatusInProgress}
	return l, &mockLogs{logs: map[uuid.UUID]*models.TestCaseLog{l.ID: l}}
}

const completePattern = "/api/v1/case-logs/{logID}/complete"

func completePath(id uuid.UUID) string {
	return fmt.Sprintf("/api/v1/case-logs/%s/complete", id)
}

func TestGetCaseLog(t *testing.T) {
	dqi := 87.5
	l := &models.TestCaseLog{
		ID:              uuid.New(),
		TestCaseID:      uuid.New(),
		ExecutionStatus: models.StatusFail,
		ExecutionLog:    models.ExecutionLog{"difference": 5},
		DQIPercentage:   &dqi,
	}
	logs := &mockLogs{logs: map[uuid.UUID]*models.TestCaseLog{l.ID: l}}

	rec := serveRoute(t, http.MethodGet, "/api/v1/case-logs/{logID}", "/api/v1/case-logs/"+l.ID.String(),
		nil, NewGetCaseLogHandler(logs), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := dataOf(t, rec)
	assert.Equal(t, l.ID.String(), data["test_case_log_id"])
	assert.Equal(t, "fail", data["execution_status"])
	assert.Equal(t, 87.5, data["dqi_percentage"])
	assert.Equal(t, 5.0, data["execution_log"].(map[string]any)["difference"])

	rec = serveRoute(t, http.MethodGet, "/api/v1/case-logs/{logID}", "/api/v1/case-logs/"+uuid.NewString(),
		nil, NewGetCaseLogHandler(logs), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CASE_LOG_NOT_FOUND", errCode(t, rec))

	rec = serveRoute(t, http.MethodGet, "/api/v1/case-logs/{logID}", "/api/v1/case-logs/"+l.ID.String(),
		nil, NewGetCaseLogHandler(&mockLogs{err: errors.New("db down")}), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCaseLogStatus(t *testing.T) {
	l, logs := inProgressLog()
	cached := uuid.New()
	statuses := &mockStatusCache{statuses: map[uuid.UUID]string{cached: "pass"}}
	h := NewCaseLogStatusHandler(statuses, logs)
	pattern := "/api/v1/case-logs/{logID}/status"

	rec := serveRoute(t, http.MethodGet, pattern, fmt.Sprintf("/api/v1/case-logs/%s/status", cached), nil, h, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pass", dataOf(t, rec)["execution_status"])

	rec = serveRoute(t, http.MethodGet, pattern, fmt.Sprintf("/api/v1/case-logs/%s/status", l.ID), nil, h, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "inprogress", dataOf(t, rec)["execution_status"], "cache miss falls back to the store")

	statuses.err = errors.New("redis down")
	rec = serveRoute(t, http.MethodGet, pattern, fmt.Sprintf("/api/v1/case-logs/%s/status", l.ID), nil, h, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCompleteCaseLog(t *testing.T) {
	l, logs := inProgressLog()
	svc := &mockCompleter{}

	body := map[string]any{
		"status":            "fail",
		"src_count":         10,
		"src_to_dest_count": 0,
		"src_log":           []any{},
		"dest_count":        12,
		"dest_to_src_count": 2,
		"dest_log":          []any{1, 2},
	}
	rec := serveRoute(t, http.MethodPost, completePattern, completePath(l.ID), body, NewCompleteCaseLogHandler(svc, logs), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "fail", dataOf(t, rec)["execution_status"])
	require.Len(t, svc.calls, 1)
	got := svc.calls[0]
	assert.Equal(t, models.StatusFail, got.status)
	assert.Equal(t, "[]", got.srcLog)
	assert.Equal(t, "[1,2]", got.destLog)
	assert.Equal(t, int64(12), got.destCount)
	assert.Equal(t, int64(2), got.destToSrc)
	assert.Equal(t, l.TestCaseID, got.testCaseID)
}

func TestCompleteCaseLog_StringLogsAndDefaults(t *testing.T) {
	l, logs := inProgressLog()
	svc := &mockCompleter{}

	body := map[string]any{"status": "pass", "src_log": `[["a", 1]]`}
	rec := serveRoute(t, http.MethodPost, completePattern, completePath(l.ID), body, NewCompleteCaseLogHandler(svc, logs), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `[["a", 1]]`, svc.calls[0].srcLog)
	assert.Equal(t, "[]", svc.calls[0].destLog)
}

func TestCompleteCaseLog_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		svcErr   error
		logID    *uuid.UUID
		wantCode int
		wantErr  string
	}{
		{name: "non terminal status", body: map[string]any{"status": "inprogress"}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "unknown status", body: map[string]any{"status": "done"}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "log is an object", body: map[string]any{"status": "pass", "src_log": map[string]any{}}, wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "not json", body: "status=pass", wantCode: http.StatusBadRequest, wantErr: "INVALID_REQUEST"},
		{name: "already completed", body: map[string]any{"status": "pass"}, svcErr: fmt.Errorf("%w: case log x", runner.ErrAlreadyCompleted), wantCode: http.StatusConflict, wantErr: "CASE_LOG_COMPLETED"},
		{name: "store failure", body: map[string]any{"status": "pass"}, svcErr: assert.AnError, wantCode: http.StatusInternalServerError, wantErr: "INTERNAL_ERROR"},
		{name: "unknown log", body: map[string]any{"status": "pass"}, logID: new(uuid.UUID), wantCode: http.StatusNotFound, wantErr: "CASE_LOG_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, logs := inProgressLog()
			id := l.ID
			if tt.logID != nil {
				id = uuid.New()
			}
			svc := &mockCompleter{err: tt.svcErr}

			rec := serveRoute(t, http.MethodPost, completePattern, completePath(id), tt.body, NewCompleteCaseLogHandler(svc, logs), nil)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, errCode(t, rec))
		})
	}
}

func TestRowsParam(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: ``, want: "[]"},
		{in: `null`, want: "[]"},
		{in: `[ 1, 2 ]`, want: "[1,2]"},
		{in: `"[]"`, want: "[]"},
		{in: `{"a":1}`, wantErr: true},
		{in: `42`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := rowsParam(json.RawMessage(tt.in))
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
