package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// SaveTestStatus persists a new latest status for tc. The in-memory case is
// only updated once the write succeeds.
func (r *Runner) SaveTestStatus(ctx context.Context, tc *models.TestCase, status models.ExecutionStatus, opts ...store.StatusUpdateOption) error {
	if err := r.store.UpdateTestCaseStatus(ctx, tc.ID, status, opts...); err != nil {
		return err
	}
	tc.LatestExecutionStatus = status
	return nil
}

// SaveJobStatus creates the job grouping one invocation of a suite.
func (r *Runner) SaveJobStatus(ctx context.Context, suiteID, userID uuid.UUID, isExternal bool) (*models.Job, uuid.UUID, error) {
	job := &models.Job{
		ID:                uuid.New(),
		TestSuiteID:       suiteID,
		OwnerID:           userID,
		IsExternalTrigger: isExternal,
		CreatedAt:         time.Now().UTC(),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, uuid.Nil, fmt.Errorf("create job for suite %s: %w", suiteID, err)
	}
	return job, job.ID, nil
}

// SaveCaseLog creates the log row a run will fill in. The execution log
// starts out NULL and no score is set.
func (r *Runner) SaveCaseLog(ctx context.Context, caseID uuid.UUID, status models.ExecutionStatus, jobID uuid.UUID) (*models.TestCaseLog, error) {
	now := time.Now().UTC()
	caseLog := &models.TestCaseLog{
		ID:              uuid.New(),
		TestCaseID:      caseID,
		JobID:           jobID,
		ExecutionStatus: status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.store.CreateCaseLog(ctx, caseLog); err != nil {
		return nil, fmt.Errorf("create case log for test case %s: %w", caseID, err)
	}
	r.cacheStatus(ctx, caseLog)
	return caseLog, nil
}
