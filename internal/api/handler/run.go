package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/dqrunner/internal/api/middleware"
	"github.com/kiranshivaraju/dqrunner/internal/api/response"
	"github.com/kiranshivaraju/dqrunner/internal/runner"
	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// Runner is the part of the dispatcher the run endpoints drive.
type Runner interface {
	RunCase(ctx context.Context, caseID, userID uuid.UUID, isExternal bool) (*runner.RunResult, error)
	RunSuite(ctx context.Context, suiteID, userID uuid.UUID, isExternal bool) (*runner.SuiteResult, error)
	RunByCaseID(ctx context.Context, caseLog *models.TestCaseLog, caseID, userID uuid.UUID) (*runner.RunResult, error)
}

// CaseLogReader loads case logs.
type CaseLogReader interface {
	GetCaseLog(ctx context.Context, id uuid.UUID) (*models.TestCaseLog, error)
}

type runRequest struct {
	IsExternalTrigger bool `json:"is_external_trigger"`
}

// NewRunCaseHandler returns an http.HandlerFunc for POST /api/v1/test-cases/{caseID}/run.
func NewRunCaseHandler(svc Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		caseID, ok := pathID(w, r, "caseID")
		if !ok {
			return
		}
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}

		result, err := svc.RunCase(r.Context(), caseID, userID, req.IsExternalTrigger)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeRunResult(w, result)
	}
}

// NewRunSuiteHandler returns an http.HandlerFunc for POST /api/v1/suites/{suiteID}/run.
func NewRunSuiteHandler(svc Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		suiteID, ok := pathID(w, r, "suiteID")
		if !ok {
			return
		}
		req, ok := decodeRunRequest(w, r)
		if !ok {
			return
		}

		result, err := svc.RunSuite(r.Context(), suiteID, userID, req.IsExternalTrigger)
		if err != nil {
			writeRunError(w, err)
			return
		}
		response.JSON(w, result)
	}
}

// NewRunCaseLogHandler returns an http.HandlerFunc for POST /api/v1/case-logs/{logID}/run.
// It executes a case against a log that was created pending beforehand.
func NewRunCaseLogHandler(svc Runner, logs CaseLogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		logID, ok := pathID(w, r, "logID")
		if !ok {
			return
		}

		caseLog, ok := loadCaseLog(w, r, logs, logID)
		if !ok {
			return
		}
		if caseLog.ExecutionStatus != models.StatusPending {
			response.Error(w, http.StatusConflict, "CASE_LOG_NOT_PENDING",
				"Only a pending case log can be run", map[string]string{"execution_status": caseLog.ExecutionStatus.String()})
			return
		}

		result, err := svc.RunByCaseID(r.Context(), caseLog, caseLog.TestCaseID, userID)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeRunResult(w, result)
	}
}

// writeRunResult answers 202 while a data validation job is still running.
func writeRunResult(w http.ResponseWriter, result *runner.RunResult) {
	if result.ExecutionStatus == models.StatusInProgress.String() {
		response.Accepted(w, result)
		return
	}
	response.JSON(w, result)
}

func writeRunError(w http.ResponseWriter, err error) {
	var unsupported *runner.UnsupportedClassError
	var detail *runner.DetailError

	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Test case not found", nil)
	case errors.Is(err, runner.ErrEmptySuite):
		response.Error(w, http.StatusNotFound, "SUITE_EMPTY", "Test suite has no test cases", nil)
	case errors.Is(err, runner.ErrConcurrentRun):
		response.Error(w, http.StatusConflict, "TEST_CASE_RUNNING", "Test case is already running", nil)
	case errors.As(err, &unsupported):
		response.Error(w, http.StatusUnprocessableEntity, "UNSUPPORTED_TEST_CLASS", err.Error(),
			map[string]int{"test_case_class": int(unsupported.Class)})
	case errors.As(err, &detail):
		response.Error(w, http.StatusUnprocessableEntity, "INVALID_TEST_CASE", err.Error(),
			map[string]string{"field": detail.Field})
	default:
		slog.Error("run failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// decodeRunRequest accepts an empty body as the default request.
func decodeRunRequest(w http.ResponseWriter, r *http.Request) (runRequest, bool) {
	var req runRequest
	if r.Body == nil {
		return req, true
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return req, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", param+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
