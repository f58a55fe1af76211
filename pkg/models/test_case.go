package models

import (
	"time"

	"github.com/google/uuid"
)

// TestCase is a single configured check against one or two databases.
// LatestExecutionStatus always mirrors the status of the case's most recent log.
type TestCase struct {
	ID                    uuid.UUID       `db:"id"                      json:"id"`
	TestSuiteID           uuid.UUID       `db:"test_suite_id"           json:"test_suite_id"`
	Class                 TestClass       `db:"test_case_class"         json:"test_case_class"`
	Detail                TestCaseDetail  `db:"test_case_detail"        json:"test_case_detail"`
	LatestExecutionStatus ExecutionStatus `db:"latest_execution_status" json:"latest_execution_status"`
	CreatedAt             time.Time       `db:"created_at"              json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"              json:"updated_at"`
}

// TestCaseDetail is the per-case configuration stored as JSON.
// Nil pointers and empty slices mean "no override".
type TestCaseDetail struct {
	SourceDBID  *uuid.UUID        `json:"src_db_id,omitempty"`
	TargetDBID  *uuid.UUID        `json:"target_db_id,omitempty"`
	SourceTable string            `json:"src_table,omitempty"`
	TargetTable string            `json:"target_table,omitempty"`
	Table       map[string]string `json:"table,omitempty"` // legacy {"schema.src": "schema.target"}
	Query       *QueryOverride    `json:"query,omitempty"`
	Columns     []string          `json:"column,omitempty"`
}

// QueryOverride replaces the table scan on either side with a custom query.
type QueryOverride struct {
	SourceQuery *string `json:"sourceqry,omitempty"`
	TargetQuery *string `json:"targetqry,omitempty"`
}

// TablePair is the resolved source/target table names of a case.
// Source is empty when the class only reads the target.
type TablePair struct {
	Source string
	Target string
}

// TestSuite groups test cases that run together under one Job.
type TestSuite struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	OwnerID   uuid.UUID `db:"owner_id"   json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
