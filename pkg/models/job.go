package models

import (
	"time"

	"github.com/google/uuid"
)

// Job groups the case logs produced by one invocation of a test suite.
// It is created once per run and never updated.
type Job struct {
	ID                uuid.UUID `db:"id"                  json:"id"`
	TestSuiteID       uuid.UUID `db:"test_suite_id"       json:"test_suite_id"`
	OwnerID           uuid.UUID `db:"owner_id"            json:"owner_id"`
	IsExternalTrigger bool      `db:"is_external_trigger" json:"is_external_trigger"`
	CreatedAt         time.Time `db:"created_at"          json:"created_at"`
}
