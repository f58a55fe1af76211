package runner

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/dqrunner/internal/validation"
	"github.com/kiranshivaraju/dqrunner/pkg/models"
)

var (
	// ErrConcurrentRun is returned when another run owns the test case.
	ErrConcurrentRun = errors.New("test case is already running")
	// ErrAlreadyCompleted is returned when a case log has left inprogress
	// or another completion for it is in flight.
	ErrAlreadyCompleted error = &rejection{"case log already completed"}
	// ErrInvalidCompletion is returned for a completion carrying a non-terminal status.
	ErrInvalidCompletion error = &rejection{"completion status must be pass, fail or error"}
	// ErrEmptySuite is returned when a suite has no test cases to run.
	ErrEmptySuite = errors.New("test suite has no test cases")
)

// rejection is a completion the runner will never accept. It matches
// validation.ErrCompletionRejected so launchers stop retrying it.
type rejection struct {
	msg string
}

func (e *rejection) Error() string {
	return e.msg
}

func (e *rejection) Is(target error) bool {
	return target == validation.ErrCompletionRejected
}

// UnsupportedClassError reports a test case whose class has no strategy.
type UnsupportedClassError struct {
	Class models.TestClass
}

func (e *UnsupportedClassError) Error() string {
	return fmt.Sprintf("unsupported test class %d", int(e.Class))
}

// DetailError reports a missing or malformed test_case_detail field.
type DetailError struct {
	Field  string
	Reason string
}

func (e *DetailError) Error() string {
	return fmt.Sprintf("invalid test case detail %q: %s", e.Field, e.Reason)
}

// ConnectionError wraps a failure to reach a source or target database.
type ConnectionError struct {
	Side   string
	DBID   uuid.UUID
	DBType string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s database %s (%s): %v", e.Side, e.DBID, e.DBType, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err stems from the test case configuration
// rather than from infrastructure.
func IsConfigError(err error) bool {
	var unsupported *UnsupportedClassError
	var detail *DetailError
	return errors.As(err, &unsupported) || errors.As(err, &detail)
}
