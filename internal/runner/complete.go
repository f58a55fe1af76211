package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/internal/cache"
	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// emptyRows is the encoding a validation job reports for "no differing rows".
const emptyRows = "[]"

// SaveCaseLogInformation records the outcome of a data validation job.
//
// Only one completion per case log is accepted. A Redis lock serializes
// concurrent callbacks and the case log write is a compare-and-set from
// inprogress, so a second completion fails with ErrAlreadyCompleted.
//
// The DQI is computed from the job's counts for every terminal status,
// error included.
//
// When srcLog is "[]" the source log is stored as null; otherwise when
// destLog is "[]" the destination log is. At most one side is nulled.
func (r *Runner) SaveCaseLogInformation(ctx context.Context, caseLog *models.TestCaseLog, status models.ExecutionStatus,
	srcCount, srcToDest int64, srcLog string,
	destCount, destToSrc int64, destLog string,
	testCaseID uuid.UUID) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: got %s", ErrInvalidCompletion, status)
	}

	if r.cache != nil {
		key := cache.CompletionLockKey(caseLog.ID)
		ok, err := r.cache.AcquireLock(ctx, key, completionLockTTL)
		if err != nil {
			slog.Warn("completion lock unavailable, relying on store guard", "case_log_id", caseLog.ID, "error", err)
		} else if !ok {
			return fmt.Errorf("%w: case log %s is being completed", ErrAlreadyCompleted, caseLog.ID)
		} else {
			defer func() {
				_ = r.cache.ReleaseLock(context.WithoutCancel(ctx), key)
			}()
		}
	}

	var source, dest any = srcLog, destLog
	if srcLog == emptyRows {
		source = nil
	} else if destLog == emptyRows {
		dest = nil
	}

	payload := models.ExecutionLog{
		"source_execution_log": source,
		"dest_execution_log":   dest,
		"src_count":            srcCount,
		"src_to_dest_count":    srcToDest,
		"dest_count":           destCount,
		"dest_to_src_count":    destToSrc,
	}

	score, err := r.dqi.Calculate(ctx, payload, testCaseID)
	if err != nil {
		slog.Error("dqi calculation failed", "test_case_id", testCaseID, "error", err)
		score = 0
	}

	updated := *caseLog
	updated.ExecutionStatus = status
	updated.ExecutionLog = payload
	updated.SetDQI(score)
	updated.UpdatedAt = time.Now().UTC()

	err = r.store.UpdateCaseLog(ctx, &updated, store.WithExpectedStatus(models.StatusInProgress))
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: case log %s", ErrAlreadyCompleted, caseLog.ID)
	}
	if err != nil {
		return fmt.Errorf("save case log %s: %w", caseLog.ID, err)
	}
	*caseLog = updated

	err = r.store.UpdateTestCaseStatus(ctx, testCaseID, status, store.WithExpectedStatus(models.StatusInProgress))
	if err != nil {
		slog.Warn("test case status not updated after completion",
			"test_case_id", testCaseID,
			"case_log_id", caseLog.ID,
			"error", err,
		)
	}

	r.metrics.RecordCompletion(status.String())
	r.metrics.RecordDQI(models.ClassDataValidation.String(), score)
	r.cacheStatus(ctx, caseLog)

	slog.Info("data validation completed",
		"case_log_id", caseLog.ID,
		"test_case_id", testCaseID,
		"status", status.String(),
		"dqi", score,
	)
	return nil
}
