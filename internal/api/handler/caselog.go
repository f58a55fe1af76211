package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/internal/api/response"
	"github.com/kiranshivaraju/dqrunner/internal/runner"
	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// Completer records the result of an external data validation job.
type Completer interface {
	SaveCaseLogInformation(ctx context.Context, caseLog *models.TestCaseLog, status models.ExecutionStatus,
		srcCount, srcToDest int64, srcLog string,
		destCount, destToSrc int64, destLog string,
		testCaseID uuid.UUID) error
}

// StatusCache serves live case log statuses without a database read.
type StatusCache interface {
	GetCaseLogStatus(ctx context.Context, logID uuid.UUID) (string, bool, error)
}

// NewGetCaseLogHandler returns an http.HandlerFunc for GET /api/v1/case-logs/{logID}.
func NewGetCaseLogHandler(logs CaseLogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, ok := pathID(w, r, "logID")
		if !ok {
			return
		}
		caseLog, ok := loadCaseLog(w, r, logs, logID)
		if !ok {
			return
		}
		response.JSON(w, caseLogResponse{
			TestCaseLog:     caseLog,
			ExecutionStatus: caseLog.ExecutionStatus.String(),
		})
	}
}

// NewCaseLogStatusHandler returns an http.HandlerFunc for GET /api/v1/case-logs/{logID}/status.
// Polling clients are served from Redis; a cache miss falls back to the store.
func NewCaseLogStatusHandler(statuses StatusCache, logs CaseLogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, ok := pathID(w, r, "logID")
		if !ok {
			return
		}

		if statuses != nil {
			status, found, err := statuses.GetCaseLogStatus(r.Context(), logID)
			if err != nil {
				slog.Warn("case log status cache read failed", "case_log_id", logID, "error", err)
			}
			if found {
				response.JSON(w, statusResponse{TestCaseLogID: logID, ExecutionStatus: status})
				return
			}
		}

		caseLog, ok := loadCaseLog(w, r, logs, logID)
		if !ok {
			return
		}
		response.JSON(w, statusResponse{TestCaseLogID: logID, ExecutionStatus: caseLog.ExecutionStatus.String()})
	}
}

// NewCompleteCaseLogHandler returns an http.HandlerFunc for
// POST /api/v1/case-logs/{logID}/complete, the callback of validation jobs.
func NewCompleteCaseLogHandler(svc Completer, logs CaseLogReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logID, ok := pathID(w, r, "logID")
		if !ok {
			return
		}

		var req completeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		status, err := models.ParseExecutionStatus(req.Status)
		if err != nil || !status.IsTerminal() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "status must be one of pass, fail, error", nil)
			return
		}
		srcLog, err := rowsParam(req.SrcLog)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "src_log must be a JSON array or string", nil)
			return
		}
		destLog, err := rowsParam(req.DestLog)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "dest_log must be a JSON array or string", nil)
			return
		}

		caseLog, ok := loadCaseLog(w, r, logs, logID)
		if !ok {
			return
		}

		err = svc.SaveCaseLogInformation(r.Context(), caseLog, status,
			req.SrcCount, req.SrcToDestCount, srcLog,
			req.DestCount, req.DestToSrcCount, destLog,
			caseLog.TestCaseID)
		switch {
		case err == nil:
		case errors.Is(err, runner.ErrAlreadyCompleted):
			response.Error(w, http.StatusConflict, "CASE_LOG_COMPLETED", "Case log is already completed", nil)
			return
		case errors.Is(err, runner.ErrInvalidCompletion):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		default:
			slog.Error("complete case log failed", "case_log_id", logID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		response.JSON(w, caseLogResponse{
			TestCaseLog:     caseLog,
			ExecutionStatus: caseLog.ExecutionStatus.String(),
		})
	}
}

type completeRequest struct {
	Status         string          `json:"status"`
	SrcCount       int64           `json:"src_count"`
	SrcToDestCount int64           `json:"src_to_dest_count"`
	SrcLog         json.RawMessage `json:"src_log"`
	DestCount      int64           `json:"dest_count"`
	DestToSrcCount int64           `json:"dest_to_src_count"`
	DestLog        json.RawMessage `json:"dest_log"`
}

type caseLogResponse struct {
	*models.TestCaseLog
	ExecutionStatus string `json:"execution_status"`
}

type statusResponse struct {
	TestCaseLogID   uuid.UUID `json:"test_case_log_id"`
	ExecutionStatus string    `json:"execution_status"`
}

// rowsParam accepts a differing-rows log either as a JSON array or as a
// string holding one. Absent or null means no rows.
func rowsParam(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "[]", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if raw[0] != '[' {
		return "", errors.New("not an array")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func loadCaseLog(w http.ResponseWriter, r *http.Request, logs CaseLogReader, logID uuid.UUID) (*models.TestCaseLog, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	caseLog, err := logs.GetCaseLog(ctx, logID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "CASE_LOG_NOT_FOUND", "Case log not found", nil)
		return nil, false
	}
	if err != nil {
		slog.Error("get case log failed", "case_log_id", logID, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return nil, false
	}
	return caseLog, true
}
