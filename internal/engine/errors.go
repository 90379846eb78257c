package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/automata/internal/store"
	"github.com/roach88/automata/internal/transition"
	"github.com/roach88/automata/internal/version"
)

// Error is the error type returned by every Engine operation.
//
// Kind drives how a caller reacts:
//   - Conflict: reload current state and retry
//   - Validation, Range: fix the request
//   - NotFound: the addressed record does not exist
//   - Expression: the transition rejected this event (or the blueprint)
//   - Overflow: the automata has exhausted its version space
//   - Internal: storage is unavailable
//
// Code names the specific condition.
type Error struct {
	// Kind is the error category.
	Kind ErrorKind

	// Code identifies the specific condition.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// AutomataID identifies the affected automata, if any.
	AutomataID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindExpression ErrorKind = "expression"
	KindRange      ErrorKind = "range"
	KindOverflow   ErrorKind = "overflow"
	KindInternal   ErrorKind = "internal"
)

// ErrorCode identifies a specific error condition.
type ErrorCode string

const (
	ErrCodeAutomataNotFound   ErrorCode = "AUTOMATA_NOT_FOUND"
	ErrCodeBlueprintNotFound  ErrorCode = "BLUEPRINT_NOT_FOUND"
	ErrCodeEventNotFound      ErrorCode = "EVENT_NOT_FOUND"
	ErrCodeInvalidVersion     ErrorCode = "INVALID_VERSION"
	ErrCodeUnknownEventType   ErrorCode = "UNKNOWN_EVENT_TYPE"
	ErrCodeInvalidEventData   ErrorCode = "INVALID_EVENT_DATA"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeInvalidBlueprint   ErrorCode = "INVALID_BLUEPRINT"
	ErrCodeUnsignedBlueprint  ErrorCode = "UNSIGNED_BLUEPRINT"
	ErrCodeAlreadyArchived    ErrorCode = "ALREADY_ARCHIVED"
	ErrCodeAlreadyActive      ErrorCode = "ALREADY_ACTIVE"
	ErrCodeAutomataArchived   ErrorCode = "AUTOMATA_ARCHIVED"
	ErrCodeInvalidExpression  ErrorCode = "INVALID_EXPRESSION"
	ErrCodeExecutionFailed    ErrorCode = "EXECUTION_FAILED"
	ErrCodeAnchorOutOfRange   ErrorCode = "ANCHOR_OUT_OF_RANGE"
	ErrCodeVersionOverflow    ErrorCode = "VERSION_OVERFLOW"
	ErrCodeStorageUnavailable ErrorCode = "STORAGE_UNAVAILABLE"
)

var codeKinds = map[ErrorCode]ErrorKind{
	ErrCodeAutomataNotFound:   KindNotFound,
	ErrCodeBlueprintNotFound:  KindNotFound,
	ErrCodeEventNotFound:      KindNotFound,
	ErrCodeInvalidVersion:     KindValidation,
	ErrCodeUnknownEventType:   KindValidation,
	ErrCodeInvalidEventData:   KindValidation,
	ErrCodeInvalidState:       KindValidation,
	ErrCodeInvalidBlueprint:   KindValidation,
	ErrCodeUnsignedBlueprint:  KindValidation,
	ErrCodeAlreadyArchived:    KindConflict,
	ErrCodeAlreadyActive:      KindConflict,
	ErrCodeAutomataArchived:   KindConflict,
	ErrCodeInvalidExpression:  KindExpression,
	ErrCodeExecutionFailed:    KindExpression,
	ErrCodeAnchorOutOfRange:   KindRange,
	ErrCodeVersionOverflow:    KindOverflow,
	ErrCodeStorageUnavailable: KindInternal,
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.AutomataID != "" {
		msg = fmt.Sprintf("%s (automata=%s)", msg, e.AutomataID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, automataID string, err error, format string, args ...any) *Error {
	return &Error{
		Kind:       codeKinds[code],
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		AutomataID: automataID,
		Err:        err,
	}
}

// storeError maps a store error to the engine taxonomy. notFound is the
// code used when the store reports a missing record.
func storeError(err error, notFound ErrorCode, automataID, op string) *Error {
	if errors.Is(err, store.ErrNotFound) {
		return newError(notFound, automataID, nil, "%s: not found", op)
	}
	return newError(ErrCodeStorageUnavailable, automataID, err, "%s", op)
}

// expressionError maps a transition error to the engine taxonomy.
func expressionError(err error, automataID string) *Error {
	if transition.IsInvalidExpression(err) {
		return newError(ErrCodeInvalidExpression, automataID, err, "invalid transition expression")
	}
	return newError(ErrCodeExecutionFailed, automataID, err, "transition failed")
}

// versionError maps a version parse failure to INVALID_VERSION.
func versionError(err error, automataID, what string) *Error {
	if errors.Is(err, version.ErrOverflow) {
		return newError(ErrCodeVersionOverflow, automataID, err, "version space exhausted")
	}
	return newError(ErrCodeInvalidVersion, automataID, err, "invalid %s", what)
}

// KindOf returns the kind of err. Errors that are not *Error are Internal;
// a nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or "" if err is not an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound returns true if err is a NotFound error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsValidation returns true if err is a Validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict returns true if err is a Conflict error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsExpression returns true if err is an Expression error.
func IsExpression(err error) bool { return KindOf(err) == KindExpression }

// IsRange returns true if err is a Range error.
func IsRange(err error) bool { return KindOf(err) == KindRange }

// IsOverflow returns true if err is an Overflow error.
func IsOverflow(err error) bool { return KindOf(err) == KindOverflow }
