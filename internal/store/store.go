package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStatusConflict is returned when a compare-and-set status update finds
// the row in a different status than expected.
var ErrStatusConflict = errors.New("status changed concurrently")

// Store is the data access interface. All database operations go through here.
// Every method is a single-entity write or read; no cross-entity transaction is taken.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error

	GetDBConnection(ctx context.Context, id uuid.UUID) (*models.DBConnection, error)

	GetTestCase(ctx context.Context, id uuid.UUID) (*models.TestCase, error)
	ListTestCasesBySuite(ctx context.Context, suiteID uuid.UUID) ([]*models.TestCase, error)
	UpdateTestCaseStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, opts ...StatusUpdateOption) error

	CreateJob(ctx context.Context, job *models.Job) error

	CreateCaseLog(ctx context.Context, log *models.TestCaseLog) error
	GetCaseLog(ctx context.Context, id uuid.UUID) (*models.TestCaseLog, error)
	UpdateCaseLog(ctx context.Context, log *models.TestCaseLog, opts ...StatusUpdateOption) error
	ListCaseLogsByStatus(ctx context.Context, caseID uuid.UUID, status models.ExecutionStatus) ([]*models.TestCaseLog, error)
}

// StatusUpdateParams is the resolved form of a set of StatusUpdateOptions.
type StatusUpdateParams struct {
	Expected          *models.ExecutionStatus
	ExpectedUpdatedAt *time.Time
}

// StatusUpdateOption customizes a status write.
type StatusUpdateOption func(*StatusUpdateParams)

// WithExpectedStatus turns the write into a compare-and-set: it only applies
// when the stored status equals expected, and fails with ErrStatusConflict otherwise.
func WithExpectedStatus(expected models.ExecutionStatus) StatusUpdateOption {
	return func(p *StatusUpdateParams) {
		p.Expected = &expected
	}
}

// WithExpectedUpdatedAt additionally requires the row to be unchanged since
// updatedAt. Only meaningful together with WithExpectedStatus.
func WithExpectedUpdatedAt(updatedAt time.Time) StatusUpdateOption {
	return func(p *StatusUpdateParams) {
		p.ExpectedUpdatedAt = &updatedAt
	}
}

// ResolveStatusOptions applies opts. Exposed for Store implementations
// outside this package (test doubles).
func ResolveStatusOptions(opts ...StatusUpdateOption) StatusUpdateParams {
	var p StatusUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// ApplyStatusOptions resolves opts into the expected status, if any.
func ApplyStatusOptions(opts ...StatusUpdateOption) (expected *models.ExecutionStatus) {
	return ResolveStatusOptions(opts...).Expected
}

// Conflicts reports whether a row with the given status and update time
// fails the compare-and-set described by p.
func (p StatusUpdateParams) Conflicts(status models.ExecutionStatus, updatedAt time.Time) bool {
	if p.Expected != nil && status != *p.Expected {
		return true
	}
	return p.ExpectedUpdatedAt != nil && !updatedAt.Equal(*p.ExpectedUpdatedAt)
}
