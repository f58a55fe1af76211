// Package runner executes data-quality test cases. It moves a case through
// pending → inprogress → pass/fail/error, dispatches to the check strategy
// of its class, scores failures and records one case log per execution.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/internal/cache"
	"github.com/kiranshivaraju/dqrunner/internal/check"
	"github.com/kiranshivaraju/dqrunner/internal/dbconn"
	"github.com/kiranshivaraju/dqrunner/internal/dqi"
	"github.com/kiranshivaraju/dqrunner/internal/metrics"
	"github.com/kiranshivaraju/dqrunner/internal/store"
	"github.com/kiranshivaraju/dqrunner/internal/validation"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

const (
	statusCacheTTL    = 30 * time.Minute
	completionLockTTL = 2 * time.Minute
	// leaseGrace is added to a run's timeout before its inprogress status
	// may be taken over.
	leaseGrace = time.Minute
)

// RunResult is returned for every dispatched run, whatever the check outcome.
type RunResult struct {
	Status          bool      `json:"status"`
	TestCaseID      uuid.UUID `json:"test_case_id"`
	TestCaseLogID   uuid.UUID `json:"test_case_log_id"`
	ExecutionStatus string    `json:"execution_status"`
}

// Options holds the collaborators of a Runner. Store, Conns and Launcher are
// required; the rest default to the package implementations.
//
// CheckTimeout bounds a synchronous check and ValidationTimeout a data
// validation job. A case left inprogress longer than its timeout plus a
// minute is treated as abandoned and may be run again.
type Options struct {
	Store             store.Store
	Conns             dbconn.Provider
	Checks            check.Checker
	DQI               dqi.Calculator
	Launcher          validation.Launcher
	Cache             cache.Cache
	Metrics           metrics.Recorder
	CheckTimeout      time.Duration
	ValidationTimeout time.Duration
}

// Runner is the execution dispatcher.
type Runner struct {
	store             store.Store
	conns             dbconn.Provider
	checks            check.Checker
	dqi               dqi.Calculator
	launcher          validation.Launcher
	cache             cache.Cache
	metrics           metrics.Recorder
	checkTimeout      time.Duration
	validationTimeout time.Duration
}

// New creates a Runner.
func New(opts Options) *Runner {
	if opts.Checks == nil {
		opts.Checks = check.Strategies{}
	}
	if opts.DQI == nil {
		opts.DQI = dqi.Formula{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 5 * time.Minute
	}
	if opts.ValidationTimeout <= 0 {
		opts.ValidationTimeout = 30 * time.Minute
	}
	return &Runner{
		store:             opts.Store,
		conns:             opts.Conns,
		checks:            opts.Checks,
		dqi:               opts.DQI,
		launcher:          opts.Launcher,
		cache:             opts.Cache,
		metrics:           opts.Metrics,
		checkTimeout:      opts.CheckTimeout,
		validationTimeout: opts.ValidationTimeout,
	}
}

// RunTest runs one test case against a case log created beforehand by
// SaveCaseLog.
//
// The case is moved to inprogress with a compare-and-set from the status it
// was read with; losing that race returns ErrConcurrentRun and leaves the
// case log untouched. A case still inprogress from a run that outlived its
// lease is taken over and the abandoned logs are closed as error. Check and
// connection failures, including panics, are recorded as an error log and
// do not fail the call. Configuration errors (*UnsupportedClassError,
// *DetailError) are recorded the same way and also returned.
func (r *Runner) RunTest(ctx context.Context, caseLog *models.TestCaseLog, tc *models.TestCase, userID, suiteID uuid.UUID) (*RunResult, error) {
	release, _, err := r.claim(ctx, tc)
	if err != nil {
		return nil, err
	}
	defer release()
	return r.execute(ctx, caseLog, tc, userID, suiteID)
}

// execute dispatches a claimed case and records the outcome on caseLog.
func (r *Runner) execute(ctx context.Context, caseLog *models.TestCaseLog, tc *models.TestCase, userID, suiteID uuid.UUID) (*RunResult, error) {
	start := time.Now()
	logger := slog.With(
		"test_case_id", tc.ID,
		"case_log_id", caseLog.ID,
		"class", tc.Class.String(),
		"user_id", userID,
		"suite_id", suiteID,
	)

	logID := caseLog.ID
	caseLog.ExecutionStatus = models.StatusInProgress
	r.cacheStatus(ctx, caseLog)

	checkCtx, cancel := context.WithTimeout(ctx, r.checkTimeout)
	result, dispatchErr := r.safeDispatch(checkCtx, tc)
	cancel()

	var configErr error
	if dispatchErr != nil {
		logger.Error("test case run failed", "error", dispatchErr)
		result = errorResult(dispatchErr)
		if IsConfigError(dispatchErr) {
			configErr = dispatchErr
		}
	}

	if result.Status == models.StatusInProgress && tc.Class != models.ClassDataValidation {
		result = errorResult(fmt.Errorf("%s check did not finish", tc.Class))
	}

	if result.Status == models.StatusInProgress {
		if err := r.record(ctx, caseLog, tc, result); err != nil {
			return nil, err
		}
		if launchErr := r.launchValidation(ctx, caseLog, tc); launchErr != nil {
			logger.Error("launch data validation failed", "error", launchErr)
			if err := r.record(ctx, caseLog, tc, errorResult(launchErr)); err != nil {
				return nil, err
			}
		}
	} else if err := r.record(ctx, caseLog, tc, result); err != nil {
		return nil, err
	}

	status := tc.LatestExecutionStatus
	r.metrics.RecordRun(tc.Class.String(), status.String(), time.Since(start))
	logger.Info("test case run finished",
		"status", status.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if configErr != nil {
		return nil, configErr
	}
	return &RunResult{
		Status:          true,
		TestCaseID:      tc.ID,
		TestCaseLogID:   logID,
		ExecutionStatus: status.String(),
	}, nil
}

// RunByCaseID fetches a test case and runs it against caseLog.
func (r *Runner) RunByCaseID(ctx context.Context, caseLog *models.TestCaseLog, caseID, userID uuid.UUID) (*RunResult, error) {
	tc, err := r.store.GetTestCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("get test case %s: %w", caseID, err)
	}
	return r.RunTest(ctx, caseLog, tc, userID, tc.TestSuiteID)
}

// RunCase creates a job and a pending case log for one test case, then runs it.
// The case is claimed before its log is created, so a refused run leaves no log behind.
func (r *Runner) RunCase(ctx context.Context, caseID, userID uuid.UUID, isExternal bool) (*RunResult, error) {
	tc, err := r.store.GetTestCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("get test case %s: %w", caseID, err)
	}
	if r.leaseHeld(tc, time.Now()) {
		return nil, fmt.Errorf("%w: test case %s", ErrConcurrentRun, tc.ID)
	}

	job, _, err := r.SaveJobStatus(ctx, tc.TestSuiteID, userID, isExternal)
	if err != nil {
		return nil, err
	}
	res, _, err := r.runNew(ctx, tc, job.ID, userID, tc.TestSuiteID)
	return res, err
}

// SuiteResult collects the per-case outcomes of one suite run.
type SuiteResult struct {
	JobID   uuid.UUID         `json:"job_id"`
	Results []SuiteCaseResult `json:"results"`
}

// SuiteCaseResult is one case of a suite run. Error is set when the run was
// refused or failed on configuration.
type SuiteCaseResult struct {
	RunResult
	Error string `json:"error,omitempty"`
}

// RunSuite creates one job for the suite and runs its cases one after another.
// A case that cannot run is reported in its SuiteCaseResult and does not stop
// the remaining cases.
func (r *Runner) RunSuite(ctx context.Context, suiteID, userID uuid.UUID, isExternal bool) (*SuiteResult, error) {
	cases, err := r.store.ListTestCasesBySuite(ctx, suiteID)
	if err != nil {
		return nil, fmt.Errorf("list test cases of suite %s: %w", suiteID, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySuite, suiteID)
	}

	job, jobID, err := r.SaveJobStatus(ctx, suiteID, userID, isExternal)
	if err != nil {
		return nil, err
	}

	out := &SuiteResult{JobID: jobID, Results: make([]SuiteCaseResult, 0, len(cases))}
	for _, tc := range cases {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		item := SuiteCaseResult{RunResult: RunResult{TestCaseID: tc.ID, ExecutionStatus: tc.LatestExecutionStatus.String()}}
		res, logID, err := r.runNew(ctx, tc, job.ID, userID, suiteID)
		item.TestCaseLogID = logID
		switch {
		case err == nil:
			item.RunResult = *res
		case errors.Is(err, ErrConcurrentRun):
			item.Error = ErrConcurrentRun.Error()
			item.ExecutionStatus = tc.LatestExecutionStatus.String()
		case IsConfigError(err):
			item.Error = err.Error()
			item.ExecutionStatus = tc.LatestExecutionStatus.String()
		default:
			return out, err
		}
		out.Results = append(out.Results, item)
	}
	return out, nil
}

// runNew claims tc, creates its pending log under jobID and runs it. The log
// ID is returned whenever a log was created.
func (r *Runner) runNew(ctx context.Context, tc *models.TestCase, jobID, userID, suiteID uuid.UUID) (*RunResult, uuid.UUID, error) {
	release, prior, err := r.claim(ctx, tc)
	if err != nil {
		return nil, uuid.Nil, err
	}
	defer release()

	caseLog, err := r.SaveCaseLog(ctx, tc.ID, models.StatusPending, jobID)
	if err != nil {
		r.unclaim(ctx, tc, prior)
		return nil, uuid.Nil, err
	}
	res, err := r.execute(ctx, caseLog, tc, userID, suiteID)
	return res, caseLog.ID, err
}

// claim takes the run lock and moves tc to inprogress. It returns the
// status the case had before, and a release func for the lock.
func (r *Runner) claim(ctx context.Context, tc *models.TestCase) (func(), models.ExecutionStatus, error) {
	prior := tc.LatestExecutionStatus
	opts := []store.StatusUpdateOption{store.WithExpectedStatus(prior)}
	since := tc.UpdatedAt
	takeover := prior == models.StatusInProgress
	if takeover {
		if r.leaseHeld(tc, time.Now()) {
			return nil, prior, fmt.Errorf("%w: test case %s", ErrConcurrentRun, tc.ID)
		}
		opts = append(opts, store.WithExpectedUpdatedAt(since))
	}

	release, err := r.lockCase(ctx, tc.ID)
	if err != nil {
		return nil, prior, err
	}

	if err := r.SaveTestStatus(ctx, tc, models.StatusInProgress, opts...); err != nil {
		release()
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, prior, fmt.Errorf("%w: test case %s", ErrConcurrentRun, tc.ID)
		}
		return nil, prior, fmt.Errorf("mark test case in progress: %w", err)
	}

	if takeover {
		slog.Warn("taking over abandoned test case run",
			"test_case_id", tc.ID,
			"inprogress_since", since,
		)
		r.closeAbandoned(ctx, tc)
		prior = models.StatusError
	}
	return release, prior, nil
}

// unclaim puts a claimed case back to its prior status when no log could be created for the run.
func (r *Runner) unclaim(ctx context.Context, tc *models.TestCase, prior models.ExecutionStatus) {
	err := r.SaveTestStatus(context.WithoutCancel(ctx), tc, prior, store.WithExpectedStatus(models.StatusInProgress))
	if err != nil {
		slog.Error("restore test case status", "test_case_id", tc.ID, "status", prior.String(), "error", err)
	}
}

// leaseHeld reports whether tc is inprogress for a run that may still finish.
func (r *Runner) leaseHeld(tc *models.TestCase, now time.Time) bool {
	if tc.LatestExecutionStatus != models.StatusInProgress {
		return false
	}
	return now.Sub(tc.UpdatedAt) < r.lease(tc.Class)
}

func (r *Runner) lease(class models.TestClass) time.Duration {
	if class == models.ClassDataValidation {
		return r.validationTimeout + leaseGrace
	}
	return r.checkTimeout + leaseGrace
}

// closeAbandoned marks the inprogress logs of a taken-over case as error.
// A log completed in the meantime is left alone.
func (r *Runner) closeAbandoned(ctx context.Context, tc *models.TestCase) {
	logs, err := r.store.ListCaseLogsByStatus(ctx, tc.ID, models.StatusInProgress)
	if err != nil {
		slog.Error("list abandoned case logs", "test_case_id", tc.ID, "error", err)
		return
	}
	for _, l := range logs {
		l.ExecutionStatus = models.StatusError
		l.ExecutionLog = models.ExecutionLog{
			"error": fmt.Sprintf("run abandoned: no result within %s", r.lease(tc.Class)),
		}
		l.SetDQI(0)
		l.UpdatedAt = time.Now().UTC()
		err := r.store.UpdateCaseLog(ctx, l, store.WithExpectedStatus(models.StatusInProgress))
		if err != nil && !errors.Is(err, store.ErrStatusConflict) {
			slog.Error("close abandoned case log", "case_log_id", l.ID, "error", err)
			continue
		}
		if err == nil {
			r.cacheStatus(ctx, l)
		}
	}
}

// safeDispatch runs the class strategy, converting a panic into an error.
func (r *Runner) safeDispatch(ctx context.Context, tc *models.TestCase) (res models.CheckResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("panic in check dispatch",
				"test_case_id", tc.ID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("check panicked: %v", p)
		}
	}()
	return r.dispatch(ctx, tc)
}

// dispatch selects the strategy by class. Detail validation and connection
// record lookups happen before any database is opened.
func (r *Runner) dispatch(ctx context.Context, tc *models.TestCase) (models.CheckResult, error) {
	d := tc.Detail

	switch tc.Class {
	case models.ClassCountCheck:
		tables, err := splitTable(tc.Class, d)
		if err != nil {
			return models.CheckResult{}, err
		}
		srcRec, tgtRec, err := r.resolvePair(ctx, d)
		if err != nil {
			return models.CheckResult{}, err
		}
		src, err := r.open(ctx, "source", srcRec)
		if err != nil {
			return models.CheckResult{}, err
		}
		defer src.DB.Close()
		tgt, err := r.open(ctx, "target", tgtRec)
		if err != nil {
			return models.CheckResult{}, err
		}
		defer tgt.DB.Close()
		return r.checks.Count(ctx, src, tgt, tables.Source, tables.Target, queryOverrides(d))

	case models.ClassNullCheck, models.ClassDuplicateCheck:
		tables, err := splitTable(tc.Class, d)
		if err != nil {
			return models.CheckResult{}, err
		}
		tgtRec, err := r.resolve(ctx, "target_db_id", d.TargetDBID)
		if err != nil {
			return models.CheckResult{}, err
		}
		tgt, err := r.open(ctx, "target", tgtRec)
		if err != nil {
			return models.CheckResult{}, err
		}
		defer tgt.DB.Close()

		cols := columns(d)
		query := deref(queryOverrides(d).TargetQuery)
		if tc.Class == models.ClassNullCheck {
			return r.checks.Null(ctx, tgt.DB, tables.Target, cols, query, tgt.DBType)
		}
		return r.checks.Duplicate(ctx, tgt.DB, tables.Target, cols, query, tgt.DBType)

	case models.ClassDDLCheck:
		tables, err := splitTable(tc.Class, d)
		if err != nil {
			return models.CheckResult{}, err
		}
		srcRec, tgtRec, err := r.resolvePair(ctx, d)
		if err != nil {
			return models.CheckResult{}, err
		}
		src, err := r.open(ctx, "source", srcRec)
		if err != nil {
			return models.CheckResult{}, err
		}
		defer src.DB.Close()
		tgt, err := r.open(ctx, "target", tgtRec)
		if err != nil {
			return models.CheckResult{}, err
		}
		defer tgt.DB.Close()
		return r.checks.DDL(ctx, src.DB, tgt.DB, tables.Source, tables.Target, src.DBType, tgt.DBType)

	case models.ClassDataValidation:
		if _, err := splitTable(tc.Class, d); err != nil {
			return models.CheckResult{}, err
		}
		if _, err := requireDBID("src_db_id", d.SourceDBID); err != nil {
			return models.CheckResult{}, err
		}
		if _, err := requireDBID("target_db_id", d.TargetDBID); err != nil {
			return models.CheckResult{}, err
		}
		return models.CheckResult{Status: models.StatusInProgress}, nil

	default:
		return models.CheckResult{}, &UnsupportedClassError{Class: tc.Class}
	}
}

// record applies the classification of result to the case and its log and
// persists both. The case is written first, guarded on inprogress.
func (r *Runner) record(ctx context.Context, caseLog *models.TestCaseLog, tc *models.TestCase, result models.CheckResult) error {
	switch result.Status {
	case models.StatusPass:
		caseLog.ExecutionLog = result.ExecutionLog
		caseLog.SetDQI(100)
	case models.StatusFail:
		caseLog.ExecutionLog = result.ExecutionLog
		score, err := r.dqi.Calculate(ctx, result.ExecutionLog, caseLog.TestCaseID)
		if err != nil {
			slog.Error("dqi calculation failed", "test_case_id", caseLog.TestCaseID, "error", err)
			score = 0
		}
		caseLog.SetDQI(score)
		r.metrics.RecordDQI(tc.Class.String(), score)
	case models.StatusError:
		caseLog.ExecutionLog = result.ExecutionLog
		caseLog.SetDQI(0)
	case models.StatusInProgress:
	default:
		result = errorResult(fmt.Errorf("check returned unexpected status %s", result.Status))
		caseLog.ExecutionLog = result.ExecutionLog
		caseLog.SetDQI(0)
	}
	caseLog.ExecutionStatus = result.Status

	if err := r.SaveTestStatus(ctx, tc, result.Status, store.WithExpectedStatus(models.StatusInProgress)); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return fmt.Errorf("%w: test case %s changed during run", ErrConcurrentRun, tc.ID)
		}
		return fmt.Errorf("save test status: %w", err)
	}
	if err := r.store.UpdateCaseLog(ctx, caseLog); err != nil {
		return fmt.Errorf("save case log: %w", err)
	}
	r.cacheStatus(ctx, caseLog)
	return nil
}

// launchValidation resolves full connection parameters and hands the live
// case log to the launcher. Absent query overrides become empty strings.
func (r *Runner) launchValidation(ctx context.Context, caseLog *models.TestCaseLog, tc *models.TestCase) error {
	if r.launcher == nil {
		return errors.New("no data validation launcher configured")
	}
	tables, err := splitTable(tc.Class, tc.Detail)
	if err != nil {
		return err
	}
	srcRec, tgtRec, err := r.resolvePair(ctx, tc.Detail)
	if err != nil {
		return err
	}
	q := queryOverrides(tc.Detail)

	return r.launcher.Launch(ctx, validation.Request{
		CaseLog:    caseLog,
		TestCaseID: tc.ID,
		Source:     endpoint(srcRec, tables.Source, deref(q.SourceQuery)),
		Target:     endpoint(tgtRec, tables.Target, deref(q.TargetQuery)),
	})
}

func endpoint(rec *models.DBConnection, table, query string) validation.Endpoint {
	return validation.Endpoint{
		DBType:   rec.DBType,
		DBName:   rec.DBName,
		Hostname: rec.DBHostname,
		DBID:     rec.ID,
		Username: rec.DBUsername,
		Password: rec.DBPassword,
		Table:    table,
		Query:    query,
	}
}

func (r *Runner) resolvePair(ctx context.Context, d models.TestCaseDetail) (src, tgt *models.DBConnection, err error) {
	if src, err = r.resolve(ctx, "src_db_id", d.SourceDBID); err != nil {
		return nil, nil, err
	}
	if tgt, err = r.resolve(ctx, "target_db_id", d.TargetDBID); err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}

// resolve loads the db_details record a detail field points at.
func (r *Runner) resolve(ctx context.Context, field string, id *uuid.UUID) (*models.DBConnection, error) {
	dbID, err := requireDBID(field, id)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.GetDBConnection(ctx, dbID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &DetailError{Field: field, Reason: fmt.Sprintf("db connection %s does not exist", dbID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get db connection %s: %w", dbID, err)
	}
	return rec, nil
}

func (r *Runner) open(ctx context.Context, side string, rec *models.DBConnection) (check.Conn, error) {
	dbType, err := dbconn.NormalizeType(rec.DBType)
	if err != nil {
		return check.Conn{}, &ConnectionError{Side: side, DBID: rec.ID, DBType: rec.DBType, Err: err}
	}
	db, err := r.conns.Open(ctx, rec)
	if err != nil {
		return check.Conn{}, &ConnectionError{Side: side, DBID: rec.ID, DBType: dbType, Err: err}
	}
	return check.Conn{DB: db, DBType: dbType}, nil
}

// lockCase takes the per-case run lock. Without a cache, or when Redis is
// unreachable, the store compare-and-set is the only guard.
func (r *Runner) lockCase(ctx context.Context, caseID uuid.UUID) (func(), error) {
	if r.cache == nil {
		return func() {}, nil
	}
	key := cache.CaseRunLockKey(caseID)
	ok, err := r.cache.AcquireLock(ctx, key, r.checkTimeout+time.Minute)
	if err != nil {
		slog.Warn("run lock unavailable", "test_case_id", caseID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, fmt.Errorf("%w: test case %s", ErrConcurrentRun, caseID)
	}
	return func() {
		_ = r.cache.ReleaseLock(context.WithoutCancel(ctx), key)
	}, nil
}

func (r *Runner) cacheStatus(ctx context.Context, caseLog *models.TestCaseLog) {
	if r.cache == nil {
		return
	}
	_ = r.cache.SetCaseLogStatus(ctx, caseLog.ID, caseLog.ExecutionStatus.String(), statusCacheTTL)
}

func errorResult(err error) models.CheckResult {
	return models.CheckResult{
		Status:       models.StatusError,
		ExecutionLog: models.ExecutionLog{"error": err.Error()},
	}
}

var _ validation.Completer = (*Runner)(nil)
