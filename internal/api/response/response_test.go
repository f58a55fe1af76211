package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/dqrunner/internal/api/response"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	response.JSON(w, map[string]string{"test_case_log_id": "abc"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "abc", data["test_case_log_id"])
}

func TestAccepted(t *testing.T) {
	w := httptest.NewRecorder()
	response.Accepted(w, map[string]string{"execution_status": "inprogress"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "inprogress", data["execution_status"])
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusConflict, "TEST_CASE_RUNNING", "Test case is already running", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	errObj := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, "TEST_CASE_RUNNING", errObj["code"])
	assert.Equal(t, "Test case is already running", errObj["message"])
	_, hasDetails := errObj["details"]
	assert.False(t, hasDetails, "nil details are omitted")
}

func TestError_WithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	response.Error(w, http.StatusUnprocessableEntity, "INVALID_TEST_CASE", "Invalid test case detail",
		map[string]string{"field": "target_table"})

	errObj := decode(t, w)["error"].(map[string]any)
	details := errObj["details"].(map[string]any)
	assert.Equal(t, "target_table", details["field"])
}
