package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// --- DB Connections ---

func (s *PostgresStore) GetDBConnection(ctx context.Context, id uuid.UUID) (*models.DBConnection, error) {
	var c models.DBConnection
	err := s.pool.QueryRow(ctx,
		`SELECT id, db_type, db_name, db_hostname, db_username, db_password, created_at, updated_at
		 FROM db_connections WHERE id = $1`, id,
	).Scan(&c.ID, &c.DBType, &c.DBName, &c.DBHostname, &c.DBUsername, &c.DBPassword,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get db connection: %w", err)
	}
	return &c, nil
}

// --- Test Cases ---

const testCaseColumns = `id, test_suite_id, test_case_class, test_case_detail, latest_execution_status, created_at, updated_at`

func scanTestCase(row pgx.Row) (*models.TestCase, error) {
	var (
		tc            models.TestCase
		class, status int
	)
	err := row.Scan(&tc.ID, &tc.TestSuiteID, &class, &tc.Detail, &status,
		&tc.CreatedAt, &tc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tc.Class = models.TestClass(class)
	tc.LatestExecutionStatus = models.ExecutionStatus(status)
	return &tc, nil
}

func (s *PostgresStore) GetTestCase(ctx context.Context, id uuid.UUID) (*models.TestCase, error) {
	tc, err := scanTestCase(s.pool.QueryRow(ctx,
		`SELECT `+testCaseColumns+` FROM test_cases WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test case: %w", err)
	}
	return tc, nil
}

func (s *PostgresStore) ListTestCasesBySuite(ctx context.Context, suiteID uuid.UUID) ([]*models.TestCase, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+testCaseColumns+` FROM test_cases WHERE test_suite_id = $1 ORDER BY created_at`, suiteID)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	var cases []*models.TestCase
	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		cases = append(cases, tc)
	}
	return cases, rows.Err()
}

func (s *PostgresStore) UpdateTestCaseStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, opts ...StatusUpdateOption) error {
	query := `UPDATE test_cases SET latest_execution_status = $2, updated_at = $3 WHERE id = $1`
	args := []any{id, int(status), time.Now().UTC()}

	p := ResolveStatusOptions(opts...)
	if p.Expected != nil {
		query += ` AND latest_execution_status = $4`
		args = append(args, int(*p.Expected))
		if p.ExpectedUpdatedAt != nil {
			query += ` AND updated_at = $5`
			args = append(args, p.ExpectedUpdatedAt.UTC())
		}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update test case status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, `SELECT EXISTS (SELECT 1 FROM test_cases WHERE id = $1)`, id, p.Expected)
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, test_suite_id, owner_id, is_external_trigger, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.TestSuiteID, job.OwnerID, job.IsExternalTrigger, job.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// --- Case Logs ---

func (s *PostgresStore) CreateCaseLog(ctx context.Context, log *models.TestCaseLog) error {
	payload, err := jsonArg(log.ExecutionLog)
	if err != nil {
		return fmt.Errorf("encode execution log: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO test_case_logs (id, test_case_id, job_id, execution_status, execution_log, dqi_percentage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.ID, log.TestCaseID, log.JobID, int(log.ExecutionStatus), payload, log.DQIPercentage,
		log.CreatedAt, log.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create case log: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCaseLog(ctx context.Context, id uuid.UUID) (*models.TestCaseLog, error) {
	var (
		l      models.TestCaseLog
		status int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, test_case_id, job_id, execution_status, execution_log, dqi_percentage, created_at, updated_at
		 FROM test_case_logs WHERE id = $1`, id,
	).Scan(&l.ID, &l.TestCaseID, &l.JobID, &status, &l.ExecutionLog, &l.DQIPercentage,
		&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get case log: %w", err)
	}
	l.ExecutionStatus = models.ExecutionStatus(status)
	return &l, nil
}

// ListCaseLogsByStatus returns the logs of a test case in the given status, newest first.
func (s *PostgresStore) ListCaseLogsByStatus(ctx context.Context, caseID uuid.UUID, status models.ExecutionStatus) ([]*models.TestCaseLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, test_case_id, job_id, execution_status, execution_log, dqi_percentage, created_at, updated_at
		 FROM test_case_logs WHERE test_case_id = $1 AND execution_status = $2
		 ORDER BY created_at DESC`, caseID, int(status))
	if err != nil {
		return nil, fmt.Errorf("list case logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.TestCaseLog
	for rows.Next() {
		var (
			l  models.TestCaseLog
			st int
		)
		if err := rows.Scan(&l.ID, &l.TestCaseID, &l.JobID, &st, &l.ExecutionLog, &l.DQIPercentage,
			&l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case log: %w", err)
		}
		l.ExecutionStatus = models.ExecutionStatus(st)
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// UpdateCaseLog writes status, payload and score of an existing log.
func (s *PostgresStore) UpdateCaseLog(ctx context.Context, log *models.TestCaseLog, opts ...StatusUpdateOption) error {
	payload, err := jsonArg(log.ExecutionLog)
	if err != nil {
		return fmt.Errorf("encode execution log: %w", err)
	}

	log.UpdatedAt = time.Now().UTC()
	query := `UPDATE test_case_logs SET execution_status = $2, execution_log = $3, dqi_percentage = $4, updated_at = $5
		 WHERE id = $1`
	args := []any{log.ID, int(log.ExecutionStatus), payload, log.DQIPercentage, log.UpdatedAt}

	expected := ApplyStatusOptions(opts...)
	if expected != nil {
		query += ` AND execution_status = $6`
		args = append(args, int(*expected))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update case log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, `SELECT EXISTS (SELECT 1 FROM test_case_logs WHERE id = $1)`, log.ID, expected)
	}
	return nil
}

// missOrConflict distinguishes a missing row from a failed compare-and-set.
func (s *PostgresStore) missOrConflict(ctx context.Context, existsQuery string, id uuid.UUID, expected *models.ExecutionStatus) error {
	if expected == nil {
		return ErrNotFound
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, existsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check row exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusConflict
}

// jsonArg encodes a payload for a JSONB column, mapping a nil log to SQL NULL.
func jsonArg(l models.ExecutionLog) (any, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
