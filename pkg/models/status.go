// Package models contains shared data models used across the dqrunner codebase.
package models

import "fmt"

// ExecutionStatus is the stable identifier of a test case execution status.
type ExecutionStatus int

const (
	StatusPending    ExecutionStatus = 1
	StatusInProgress ExecutionStatus = 2
	StatusPass       ExecutionStatus = 3
	StatusFail       ExecutionStatus = 4
	StatusError      ExecutionStatus = 5
)

var executionStatusNames = map[ExecutionStatus]string{
	StatusPending:    "pending",
	StatusInProgress: "inprogress",
	StatusPass:       "pass",
	StatusFail:       "fail",
	StatusError:      "error",
}

var executionStatusByName = map[string]ExecutionStatus{
	"pending":    StatusPending,
	"inprogress": StatusInProgress,
	"pass":       StatusPass,
	"fail":       StatusFail,
	"error":      StatusError,
}

// ParseExecutionStatus resolves a status name (e.g. "inprogress") to its identifier.
func ParseExecutionStatus(name string) (ExecutionStatus, error) {
	s, ok := executionStatusByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown execution status %q", name)
	}
	return s, nil
}

func (s ExecutionStatus) String() string {
	if name, ok := executionStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Valid reports whether s is one of the known statuses.
func (s ExecutionStatus) Valid() bool {
	_, ok := executionStatusNames[s]
	return ok
}

// IsTerminal returns true for pass, fail and error.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusPass || s == StatusFail || s == StatusError
}

// TestClass identifies the check algorithm family of a test case.
type TestClass int

const (
	ClassCountCheck     TestClass = 1
	ClassNullCheck      TestClass = 2
	ClassDuplicateCheck TestClass = 3
	ClassDDLCheck       TestClass = 4
	ClassDataValidation TestClass = 5
)

var testClassNames = map[TestClass]string{
	ClassCountCheck:     "countcheck",
	ClassNullCheck:      "nullcheck",
	ClassDuplicateCheck: "duplicatecheck",
	ClassDDLCheck:       "ddlcheck",
	ClassDataValidation: "datavalidation",
}

var testClassByName = map[string]TestClass{
	"countcheck":     ClassCountCheck,
	"nullcheck":      ClassNullCheck,
	"duplicatecheck": ClassDuplicateCheck,
	"ddlcheck":       ClassDDLCheck,
	"datavalidation": ClassDataValidation,
}

// ParseTestClass resolves a test class name (e.g. "countcheck") to its identifier.
func ParseTestClass(name string) (TestClass, error) {
	c, ok := testClassByName[name]
	if !ok {
		return 0, fmt.Errorf("unknown test class %q", name)
	}
	return c, nil
}

func (c TestClass) String() string {
	if name, ok := testClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Valid reports whether c is one of the five supported classes.
func (c TestClass) Valid() bool {
	_, ok := testClassNames[c]
	return ok
}

// NeedsSource reports whether the class reads from a source database as well as the target.
func (c TestClass) NeedsSource() bool {
	return c == ClassCountCheck || c == ClassDDLCheck || c == ClassDataValidation
}
