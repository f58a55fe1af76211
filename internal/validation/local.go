package validation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kiranshivaraju/dqrunner/internal/check"
	"github.com/kiranshivaraju/dqrunner/internal/dbconn"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

// LocalOptions configure a LocalLauncher.
//
// CompleteAttempts bounds how often a job's result is offered to the
// Completer, waiting CompleteBackoff times the attempt number in between.
type LocalOptions struct {
	Timeout          time.Duration
	SampleRows       int
	CompleteAttempts int
	CompleteBackoff  time.Duration
}

// completeTimeout bounds one completion write. It is independent of the job
// timeout so a job that ran out of time can still record its error.
const completeTimeout = 30 * time.Second

// LocalLauncher runs the comparison in-process on a background goroutine.
type LocalLauncher struct {
	conns dbconn.Provider
	opts  LocalOptions

	mu        sync.RWMutex
	completer Completer

	wg sync.WaitGroup
}

// NewLocalLauncher creates a LocalLauncher. SetCompleter must be called before Launch.
func NewLocalLauncher(conns dbconn.Provider, opts LocalOptions) *LocalLauncher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.CompleteAttempts <= 0 {
		opts.CompleteAttempts = 3
	}
	if opts.CompleteBackoff <= 0 {
		opts.CompleteBackoff = time.Second
	}
	return &LocalLauncher{conns: conns, opts: opts}
}

// SetCompleter wires the component that records finished jobs.
func (l *LocalLauncher) SetCompleter(c Completer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completer = c
}

// Launch starts the comparison and returns immediately. The job outlives ctx
// cancellation but is bounded by the configured timeout.
func (l *LocalLauncher) Launch(ctx context.Context, req Request) error {
	if err := req.validate(); err != nil {
		return err
	}

	l.mu.RLock()
	completer := l.completer
	l.mu.RUnlock()
	if completer == nil {
		return errors.New("local launcher: no completer configured")
	}

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.Timeout)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		l.run(jobCtx, completer, req)
	}()
	return nil
}

// Wait blocks until every launched job has finished.
func (l *LocalLauncher) Wait() {
	l.wg.Wait()
}

func (l *LocalLauncher) run(ctx context.Context, completer Completer, req Request) {
	logger := slog.With("case_log_id", req.CaseLog.ID, "test_case_id", req.TestCaseID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in data validation",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			l.reportError(ctx, completer, req)
		}
	}()

	diff, err := l.compare(ctx, req)
	if err != nil {
		logger.Error("data validation failed", "error", err)
		l.reportError(ctx, completer, req)
		return
	}

	srcLog, err := EncodeRows(diff.SrcOnly)
	if err != nil {
		logger.Error("encode source sample", "error", err)
		l.reportError(ctx, completer, req)
		return
	}
	destLog, err := EncodeRows(diff.DestOnly)
	if err != nil {
		logger.Error("encode target sample", "error", err)
		l.reportError(ctx, completer, req)
		return
	}

	status := models.StatusFail
	if diff.Passed() {
		status = models.StatusPass
	}

	err = l.complete(ctx, req, func(ctx context.Context) error {
		return completer.SaveCaseLogInformation(ctx, req.CaseLog, status,
			diff.SrcCount, diff.SrcToDest, srcLog,
			diff.DestCount, diff.DestToSrc, destLog,
			req.TestCaseID)
	})
	if err != nil {
		logger.Error("complete case log", "error", err)
		return
	}

	logger.Info("data validation completed",
		"status", status.String(),
		"src_count", diff.SrcCount,
		"dest_count", diff.DestCount,
		"src_to_dest_count", diff.SrcToDest,
		"dest_to_src_count", diff.DestToSrc,
	)
}

func (l *LocalLauncher) reportError(ctx context.Context, completer Completer, req Request) {
	err := l.complete(ctx, req, func(ctx context.Context) error {
		return completer.SaveCaseLogInformation(ctx, req.CaseLog, models.StatusError,
			0, 0, "[]", 0, 0, "[]", req.TestCaseID)
	})
	if err != nil {
		slog.Error("record validation error", "case_log_id", req.CaseLog.ID, "error", err)
	}
}

// complete calls save until it succeeds, the Completer rejects the result
// or the attempts run out. Each attempt gets its own deadline.
func (l *LocalLauncher) complete(ctx context.Context, req Request, save func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= l.opts.CompleteAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt-1) * l.opts.CompleteBackoff)
		}
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTimeout)
		err = save(attemptCtx)
		cancel()
		if err == nil || errors.Is(err, ErrCompletionRejected) {
			return err
		}
		slog.Warn("completion write failed",
			"case_log_id", req.CaseLog.ID,
			"attempt", attempt,
			"error", err,
		)
	}
	return fmt.Errorf("after %d attempts: %w", l.opts.CompleteAttempts, err)
}

func (l *LocalLauncher) compare(ctx context.Context, req Request) (Diff, error) {
	src, err := l.conns.Open(ctx, req.Source.Connection())
	if err != nil {
		return Diff{}, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tgt, err := l.conns.Open(ctx, req.Target.Connection())
	if err != nil {
		return Diff{}, fmt.Errorf("open target: %w", err)
	}
	defer tgt.Close()

	srcRows, err := readRows(ctx, src, req.Source)
	if err != nil {
		return Diff{}, fmt.Errorf("read source: %w", err)
	}
	tgtRows, err := readRows(ctx, tgt, req.Target)
	if err != nil {
		return Diff{}, fmt.Errorf("read target: %w", err)
	}

	return Compare(srcRows, tgtRows, l.opts.SampleRows)
}

// readRows loads the whole relation. Both sides must project columns in the
// same order for rows to match.
func readRows(ctx context.Context, db *sql.DB, e Endpoint) ([][]any, error) {
	dialect, err := dbconn.NormalizeType(e.DBType)
	if err != nil {
		return nil, err
	}
	b := check.QueryBuilder{Dialect: dialect}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+b.From(e.Table, e.Query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	return out, rows.Err()
}
