package runner

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/internal/check"
	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/internal/validation"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// --- mocks ---

type mockStore struct {
	mu        sync.Mutex
	conns     map[uuid.UUID]*models.DBConnection
	cases     map[uuid.UUID]*models.TestCase
	jobs      map[uuid.UUID]*models.Job
	logs      map[uuid.UUID]*models.TestCaseLog
	logWrites int

	createLogErr   error
	updateLogErr   error
	updateLogFails int // when > 0, updateLogErr is returned only that many times
}

func newMockStore() *mockStore {
	return &mockStore{
		conns: make(map[uuid.UUID]*models.DBConnection),
		cases: make(map[uuid.UUID]*models.TestCase),
		jobs:  make(map[uuid.UUID]*models.Job),
		logs:  make(map[uuid.UUID]*models.TestCaseLog),
	}
}

func (s *mockStore) Ping(_ context.Context) error { return nil }
func (s *mockStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) { return nil, nil }
func (s *mockStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }

func (s *mockStore) GetDBConnection(_ context.Context, id uuid.UUID) (*models.DBConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *mockStore) GetTestCase(_ context.Context, id uuid.UUID) (*models.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.cases[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *tc
	return &cp, nil
}

func (s *mockStore) ListTestCasesBySuite(_ context.Context, suiteID uuid.UUID) ([]*models.TestCase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TestCase
	for _, tc := range s.cases {
		if tc.TestSuiteID == suiteID {
			cp := *tc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockStore) UpdateTestCaseStatus(_ context.Context, id uuid.UUID, status models.ExecutionStatus, opts ...store.StatusUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc, ok := s.cases[id]
	if !ok {
		return store.ErrNotFound
	}
	if store.ResolveStatusOptions(opts...).Conflicts(tc.LatestExecutionStatus, tc.UpdatedAt) {
		return store.ErrStatusConflict
	}
	tc.LatestExecutionStatus = status
	tc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *mockStore) CreateCaseLog(_ context.Context, log *models.TestCaseLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createLogErr != nil {
		return s.createLogErr
	}
	if _, ok := s.logs[log.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *log
	s.logs[log.ID] = &cp
	return nil
}

func (s *mockStore) GetCaseLog(_ context.Context, id uuid.UUID) (*models.TestCaseLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *mockStore) UpdateCaseLog(_ context.Context, log *models.TestCaseLog, opts ...store.StatusUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateLogErr != nil {
		if s.updateLogFails == 0 {
			return s.updateLogErr
		}
		s.updateLogFails--
		err := s.updateLogErr
		if s.updateLogFails == 0 {
			s.updateLogErr = nil
		}
		return err
	}
	cur, ok := s.logs[log.ID]
	if !ok {
		return store.ErrNotFound
	}
	if store.ResolveStatusOptions(opts...).Conflicts(cur.ExecutionStatus, cur.UpdatedAt) {
		return store.ErrStatusConflict
	}
	cp := *log
	s.logs[log.ID] = &cp
	s.logWrites++
	return nil
}

func (s *mockStore) ListCaseLogsByStatus(_ context.Context, caseID uuid.UUID, status models.ExecutionStatus) ([]*models.TestCaseLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TestCaseLog
	for _, l := range s.logs {
		if l.TestCaseID == caseID && l.ExecutionStatus == status {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockStore) addConn(dbType, host string) uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = &models.DBConnection{ID: id, DBType: dbType, DBName: "warehouse", DBHostname: host, DBUsername: "dq"}
	return id
}

func (s *mockStore) addCase(tc *models.TestCase) *models.TestCase {
	if tc.ID == uuid.Nil {
		tc.ID = uuid.New()
	}
	if tc.LatestExecutionStatus == 0 {
		tc.LatestExecutionStatus = models.StatusPending
	}
	if tc.UpdatedAt.IsZero() {
		tc.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tc
	s.cases[tc.ID] = &cp
	return tc
}

func (s *mockStore) caseStatus(id uuid.UUID) models.ExecutionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cases[id].LatestExecutionStatus
}

// age moves the last status write of a case d into the past.
func (s *mockStore) age(id uuid.UUID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[id].UpdatedAt = s.cases[id].UpdatedAt.Add(-d)
}

func (s *mockStore) storedLog(id uuid.UUID) models.TestCaseLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.logs[id]
}

// stubProvider hands out sqlmock handles keyed by hostname.
type stubProvider struct {
	mu     sync.Mutex
	dbs    map[string]*sql.DB
	errs   map[string]error
	opened []string
}

func newStubProvider() *stubProvider {
	return &stubProvider{dbs: make(map[string]*sql.DB), errs: make(map[string]error)}
}

func (p *stubProvider) add(t *testing.T, host string) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	mock.ExpectClose()
	p.dbs[host] = db
	return mock
}

func (p *stubProvider) Open(_ context.Context, conn *models.DBConnection) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, conn.DBHostname)
	if err := p.errs[conn.DBHostname]; err != nil {
		return nil, err
	}
	db, ok := p.dbs[conn.DBHostname]
	if !ok {
		return nil, errors.New("no such host " + conn.DBHostname)
	}
	return db, nil
}

func (p *stubProvider) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opened)
}

type checkCall struct {
	method   string
	srcTable string
	tgtTable string
	columns  []string
	query    string
	srcType  string
	tgtType  string
}

// stubChecker returns a canned result and records its arguments.
type stubChecker struct {
	result models.CheckResult
	err    error
	panic  any
	calls  []checkCall
}

func (c *stubChecker) answer(call checkCall) (models.CheckResult, error) {
	c.calls = append(c.calls, call)
	if c.panic != nil {
		panic(c.panic)
	}
	return c.result, c.err
}

func (c *stubChecker) Count(_ context.Context, src, tgt check.Conn, srcTable, tgtTable string, query models.QueryOverride) (models.CheckResult, error) {
	return c.answer(checkCall{method: "count", srcTable: srcTable, tgtTable: tgtTable, query: deref(query.TargetQuery), srcType: src.DBType, tgtType: tgt.DBType})
}

func (c *stubChecker) Null(_ context.Context, _ *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error) {
	return c.answer(checkCall{method: "null", tgtTable: table, columns: columns, query: query, tgtType: dbType})
}

func (c *stubChecker) Duplicate(_ context.Context, _ *sql.DB, table string, columns []string, query, dbType string) (models.CheckResult, error) {
	return c.answer(checkCall{method: "duplicate", tgtTable: table, columns: columns, query: query, tgtType: dbType})
}

func (c *stubChecker) DDL(_ context.Context, _, _ *sql.DB, srcTable, tgtTable, srcType, tgtType string) (models.CheckResult, error) {
	return c.answer(checkCall{method: "ddl", srcTable: srcTable, tgtTable: tgtTable, srcType: srcType, tgtType: tgtType})
}

type stubDQI struct {
	mu    sync.Mutex
	score float64
	err   error
	seen  []models.ExecutionLog
}

func (d *stubDQI) Calculate(_ context.Context, log models.ExecutionLog, _ uuid.UUID) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, log)
	return d.score, d.err
}

type stubLauncher struct {
	mu       sync.Mutex
	requests []validation.Request
	err      error
}

func (l *stubLauncher) Launch(_ context.Context, req validation.Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	return l.err
}

// mockCache is an in-memory cache.Cache.
type mockCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	locks    map[string]bool
	lockErr  error
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[uuid.UUID]string), locks: make(map[string]bool)}
}

func (c *mockCache) Ping(_ context.Context) error { return nil }

func (c *mockCache) SetCaseLogStatus(_ context.Context, logID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[logID] = status
	return nil
}

func (c *mockCache) GetCaseLogStatus(_ context.Context, logID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[logID]
	return s, ok, nil
}

func (c *mockCache) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	if c.lockErr != nil {
		return false, c.lockErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[key] {
		return false, nil
	}
	c.locks[key] = true
	return true, nil
}

func (c *mockCache) ReleaseLock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, key)
	return nil
}

func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

type recordedRun struct {
	class, status string
}

type stubMetrics struct {
	mu          sync.Mutex
	runs        []recordedRun
	dqis        []float64
	completions []string
}

func (m *stubMetrics) RecordRun(class, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, recordedRun{class, status})
}

func (m *stubMetrics) RecordDQI(_ string, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dqis = append(m.dqis, score)
}

func (m *stubMetrics) RecordCompletion(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, status)
}

// --- fixture ---

type fixture struct {
	store    *mockStore
	conns    *stubProvider
	checks   *stubChecker
	dqi      *stubDQI
	launcher *stubLauncher
	cache    *mockCache
	metrics  *stubMetrics
	runner   *Runner

	srcDB uuid.UUID
	tgtDB uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMockStore(),
		conns:    newStubProvider(),
		checks:   &stubChecker{result: models.CheckResult{Status: models.StatusPass}},
		dqi:      &stubDQI{},
		launcher: &stubLauncher{},
		cache:    newMockCache(),
		metrics:  &stubMetrics{},
	}
	f.srcDB = f.store.addConn("postgres", "src-host")
	f.tgtDB = f.store.addConn("postgres", "tgt-host")
	f.conns.add(t, "src-host")
	f.conns.add(t, "tgt-host")
	f.runner = New(Options{
		Store:        f.store,
		Conns:        f.conns,
		Checks:       f.checks,
		DQI:          f.dqi,
		Launcher:     f.launcher,
		Cache:        f.cache,
		Metrics:      f.metrics,
		CheckTimeout: 5 * time.Second,
	})
	return f
}

// newCase registers a case of the given class reading s.orders → t.orders.
func (f *fixture) newCase(class models.TestClass) *models.TestCase {
	src, tgt := f.srcDB, f.tgtDB
	return f.store.addCase(&models.TestCase{
		TestSuiteID: uuid.New(),
		Class:       class,
		Detail: models.TestCaseDetail{
			SourceDBID:  &src,
			TargetDBID:  &tgt,
			SourceTable: "s.orders",
			TargetTable: "t.orders",
		},
	})
}

// pendingLog creates a job and a pending log for tc, as a caller would before RunTest.
func (f *fixture) pendingLog(t *testing.T, tc *models.TestCase) *models.TestCaseLog {
	t.Helper()
	job, _, err := f.runner.SaveJobStatus(context.Background(), tc.TestSuiteID, uuid.New(), false)
	if err != nil {
		t.Fatalf("SaveJobStatus: %v", err)
	}
	caseLog, err := f.runner.SaveCaseLog(context.Background(), tc.ID, models.StatusPending, job.ID)
	if err != nil {
		t.Fatalf("SaveCaseLog: %v", err)
	}
	return caseLog
}

func strPtr(s string) *string { return &s }
