// Package validation launches full data-validation jobs. A launch returns as
// soon as the job is handed off; the job reports its outcome later through
// the case-log completion path.
package validation

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

var (
	// ErrInvalidRequest is returned when a launch request is missing its case log.
	ErrInvalidRequest = errors.New("invalid validation request")
	// ErrCompletionRejected is matched by Completer errors that retrying
	// cannot fix, such as a case log that was already completed.
	ErrCompletionRejected = errors.New("completion rejected")
)

// Endpoint is one side of a validation: full connection parameters plus the
// relation to read. DBID is the stored connection the parameters came from.
// Query is empty when no override is configured.
type Endpoint struct {
	DBID     uuid.UUID
	DBType   string
	DBName   string
	Hostname string
	Username string
	Password string
	Table    string
	Query    string
}

// Connection returns the stored-connection view of the endpoint.
func (e Endpoint) Connection() *models.DBConnection {
	return &models.DBConnection{
		ID:         e.DBID,
		DBType:     e.DBType,
		DBName:     e.DBName,
		DBHostname: e.Hostname,
		DBUsername: e.Username,
		DBPassword: e.Password,
	}
}

// Request describes one data-validation job. CaseLog is the live log the job
// completes; it must stay in inprogress until then.
type Request struct {
	CaseLog    *models.TestCaseLog
	TestCaseID uuid.UUID
	Source     Endpoint
	Target     Endpoint
}

func (r Request) validate() error {
	if r.CaseLog == nil {
		return errors.Join(ErrInvalidRequest, errors.New("case log is required"))
	}
	if r.Target.Table == "" && r.Target.Query == "" {
		return errors.Join(ErrInvalidRequest, errors.New("target table or query is required"))
	}
	return nil
}

// Launcher starts a validation job without waiting for it.
type Launcher interface {
	Launch(ctx context.Context, req Request) error
}

// Completer records the outcome of a validation job against its case log.
type Completer interface {
	SaveCaseLogInformation(ctx context.Context, caseLog *models.TestCaseLog, status models.ExecutionStatus,
		srcCount, srcToDest int64, srcLog string,
		destCount, destToSrc int64, destLog string,
		testCaseID uuid.UUID) error
}
