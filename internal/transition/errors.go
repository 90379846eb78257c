package transition

import (
	"errors"
	"fmt"
)

// ErrorCode distinguishes compile-time from run-time failures.
type ErrorCode string

const (
	// CodeInvalidExpression rejects the expression itself. Surfaces when
	// a blueprint is created.
	CodeInvalidExpression ErrorCode = "INVALID_EXPRESSION"

	// CodeExecutionFailed rejects one event. The automata is unchanged.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
)

// Error is returned by Compile and Evaluate.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidExpression reports whether err is a compile-time failure.
func IsInvalidExpression(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == CodeInvalidExpression
}

// IsExecutionFailed reports whether err is an evaluation failure.
func IsExecutionFailed(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == CodeExecutionFailed
}

func invalidExpression(msg string, err error) *Error {
	return &Error{Code: CodeInvalidExpression, Message: msg, Err: err}
}

func executionFailed(msg string, err error) *Error {
	return &Error{Code: CodeExecutionFailed, Message: msg, Err: err}
}
