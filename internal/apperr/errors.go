// Package apperr defines the error kinds returned across the console core.
//
// Every account, authentication, and workspace operation reports failure as
// one of the sentinel values below (compare with errors.Is) or as an
// *OperationFailedError wrapping an unexpected store or I/O fault (inspect with
// errors.As). The HTTP layer maps kinds to status codes through HTTPStatus so
// handlers never branch on error strings.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// Lookup errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Registration errors
	ErrDuplicateUsername = errors.New("username already exists")
	ErrEmptyUsername     = errors.New("username cannot be empty")
	ErrUsernameTooLong   = errors.New("username is too long")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPendingApproval    = errors.New("account pending admin approval")

	// Authorization errors
	ErrPermissionDenied = errors.New("permission denied")

	// Input errors
	ErrNoContent       = errors.New("no content provided")
	ErrInvalidFilename = errors.New("invalid filename")
	ErrInvalidRole     = errors.New("invalid role")
)

// OperationFailedError reports an unexpected fault in the underlying store or
// filesystem. Detail carries the original message for the audit trail.
type OperationFailedError struct {
	Op     string
	Detail string
	Err    error
}

func (e *OperationFailedError) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Detail
	}
	return e.Detail
}

func (e *OperationFailedError) Unwrap() error {
	return e.Err
}

// Failed wraps err as an OperationFailedError for the named operation.
func Failed(op string, err error) *OperationFailedError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &OperationFailedError{Op: op, Detail: detail, Err: err}
}

// IsOperationFailed reports whether err is (or wraps) an OperationFailedError.
func IsOperationFailed(err error) bool {
	var opErr *OperationFailedError
	return errors.As(err, &opErr)
}

// Detail returns the audit detail string for err.
func Detail(err error) string {
	var opErr *OperationFailedError
	if errors.As(err, &opErr) {
		return opErr.Detail
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// HTTPStatus maps an error kind to the HTTP status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrDuplicateUsername):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyUsername), errors.Is(err, ErrUsernameTooLong), errors.Is(err, ErrNoContent),
		errors.Is(err, ErrInvalidFilename), errors.Is(err, ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPendingApproval), errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
