package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionLog is the check-specific payload of a case log. A nil map is stored as NULL.
type ExecutionLog map[string]any

// TestCaseLog is one durable record of a single execution attempt of a test case.
type TestCaseLog struct {
	ID              uuid.UUID       `db:"id"               json:"test_case_log_id"`
	TestCaseID      uuid.UUID       `db:"test_case_id"     json:"test_case_id"`
	JobID           uuid.UUID       `db:"job_id"           json:"job_id"`
	ExecutionStatus ExecutionStatus `db:"execution_status" json:"execution_status"`
	ExecutionLog    ExecutionLog    `db:"execution_log"    json:"execution_log"`
	DQIPercentage   *float64        `db:"dqi_percentage"   json:"dqi_percentage"`
	CreatedAt       time.Time       `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"       json:"updated_at"`
}

// SetDQI records a data-quality-index score on the log.
func (l *TestCaseLog) SetDQI(v float64) {
	l.DQIPercentage = &v
}

// CheckResult is the normalized outcome of a check strategy.
type CheckResult struct {
	Status       ExecutionStatus
	ExecutionLog ExecutionLog
}
