// Package herr implements hive's error taxonomy (spec §7): sentinel errors
// for each class plus a Code enum and a JSON result shape for tool-dispatch
// callers. Grounded on the donor's internal/storage/sqlite/errors.go
// wrapDBError/wrapDBErrorf idiom, generalized from a single ErrNotFound
// translation to the full taxonomy spec.md requires.
package herr

import (
	"database/sql"
	"errors"
	"fmt"
)

// Code identifies which branch of the taxonomy an error belongs to.
type Code string

const (
	CodeValidation     Code = "validation_error"
	CodeNotFound       Code = "not_found"
	CodeAmbiguous      Code = "ambiguous"
	CodeConflict       Code = "conflict"
	CodeLockTimeout    Code = "lock_timeout"
	CodeLockContention Code = "lock_contention"
	CodeIntegrity      Code = "integrity_error"
	CodeRollback       Code = "rollback_failure"
	CodeIO             Code = "io_error"
)

// Sentinel errors. Use errors.Is against these, or errors.As against *Error
// to recover Code/Details.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrAmbiguous      = errors.New("ambiguous")
	ErrConflict       = errors.New("conflict")
	ErrLockTimeout    = errors.New("lock timeout")
	ErrLockContention = errors.New("lock contention")
	ErrIntegrity      = errors.New("integrity error")
	ErrRollback       = errors.New("rollback failure")
	ErrIO             = errors.New("io error")
)

var sentinelByCode = map[Code]error{
	CodeValidation:     ErrValidation,
	CodeNotFound:       ErrNotFound,
	CodeAmbiguous:      ErrAmbiguous,
	CodeConflict:       ErrConflict,
	CodeLockTimeout:    ErrLockTimeout,
	CodeLockContention: ErrLockContention,
	CodeIntegrity:      ErrIntegrity,
	CodeRollback:       ErrRollback,
	CodeIO:             ErrIO,
}

// Error is a typed, detailed error. Details carries class-specific
// structured data (e.g. Ambiguous candidates, Conflict rows).
type Error struct {
	Code    Code
	Op      string
	Msg     string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, sentinelByCode[e.Code])
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinelByCode[e.Code]
}

// New builds a typed error for the given code and operation.
func New(code Code, op, msg string, details any) *Error {
	return &Error{Code: code, Op: op, Msg: msg, Details: details}
}

// NotFound builds a CodeNotFound error naming what was not found.
func NotFound(op, what string) *Error {
	return New(CodeNotFound, op, fmt.Sprintf("%s not found", what), nil)
}

// Ambiguous builds a CodeAmbiguous error listing the candidates that matched
// a partial ID (spec §4.5 partial-ID resolution).
func Ambiguous(op string, candidates []string) *Error {
	return New(CodeAmbiguous, op, fmt.Sprintf("ambiguous prefix matches %d cells", len(candidates)), candidates)
}

// LockTimeout builds a CodeLockTimeout error naming the contended resource.
func LockTimeout(op, resource string) *Error {
	return New(CodeLockTimeout, op, fmt.Sprintf("timed out acquiring lock on %s", resource), resource)
}

// Rollback builds a CodeRollback error enumerating which compensating
// deletes failed during an aborted create_epic (spec §4.5/§7).
func Rollback(op string, failures map[string]error) *Error {
	details := make(map[string]string, len(failures))
	for id, err := range failures {
		details[id] = err.Error()
	}
	return New(CodeRollback, op, fmt.Sprintf("rollback failed for %d cells", len(failures)), details)
}

// Wrap wraps a lower-level (typically database) error with operation
// context, translating sql.ErrNoRows into CodeNotFound. Returns nil if err
// is nil. Mirrors wrapDBError from the donor's sqlite storage package.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Code: CodeNotFound, Op: op, cause: err}
	}
	return &Error{Code: CodeIO, Op: op, cause: err}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return errors.Is(err, sentinelByCode[code])
}

// Result is the JSON shape returned to tool-dispatch callers per spec §7:
// "success: false" plus a structured error block. Programmatic Go callers
// use the returned error directly instead — never both at once.
type Result struct {
	Success bool        `json:"success"`
	Error   *ResultError `json:"error,omitempty"`
}

// ResultError is the {code, message, details} block of a failed Result.
type ResultError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// AsResult converts a typed error into the facade's JSON result shape.
func AsResult(err error) Result {
	if err == nil {
		return Result{Success: true}
	}
	var e *Error
	if errors.As(err, &e) {
		return Result{Success: false, Error: &ResultError{Code: e.Code, Message: e.Error(), Details: e.Details}}
	}
	return Result{Success: false, Error: &ResultError{Code: CodeIO, Message: err.Error()}}
}
