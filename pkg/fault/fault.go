// Package fault holds the error categories shared by every booking workflow.
//
// Domain packages declare their own sentinel errors wrapping one of the
// categories below, so callers can match either the precise cause or the
// category with errors.Is.
package fault

import (
	"errors"
	"fmt"
)

// Error categories.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = fmt.Errorf("%w: invalid state", ErrInvalidArgument)
	ErrInternal        = errors.New("internal")
)

// Category names a top-level error class.
type Category string

const (
	CategoryNotFound        Category = "not_found"
	CategoryInvalidArgument Category = "invalid_argument"
	CategoryInvalidState    Category = "invalid_state"
	CategoryForbidden       Category = "forbidden"
	CategoryInternal        Category = "internal"
)

// Classify reports the category of err. Unknown errors are internal.
func Classify(err error) Category {
	switch {
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrForbidden):
		return CategoryForbidden
	case errors.Is(err, ErrInvalidState):
		return CategoryInvalidState
	case errors.Is(err, ErrInvalidArgument):
		return CategoryInvalidArgument
	default:
		return CategoryInternal
	}
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// CaveatError reports that an operation committed its primary effect but a
// follow-up step failed. The caller receives both the result and this error.
type CaveatError struct {
	Stage string
	Err   error
}

// Error returns the formatted error message.
func (caveatError *CaveatError) Error() string {
	return fmt.Sprintf("succeeded with caveat at %s: %v", caveatError.Stage, caveatError.Err)
}

// Unwrap returns the underlying error.
func (caveatError *CaveatError) Unwrap() error {
	return caveatError.Err
}

// IsCaveat reports whether err carries a CaveatError.
func IsCaveat(err error) bool {
	var caveatError *CaveatError
	return errors.As(err, &caveatError)
}
