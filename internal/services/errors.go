package services

import (
	"errors"
	"fmt"
	"net/http"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

var (
	// ErrValidation indicates the caller supplied invalid input or an unusable cart.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates the cart could not be honored against current stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates the record changed state concurrently.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the principal may not access the record.
	ErrForbidden = errors.New("forbidden")
	// ErrInternal indicates an unexpected failure.
	ErrInternal = errors.New("internal error")
)

// Stable error codes surfaced to clients.
const (
	CodeCartEmpty             = "cart_empty"
	CodeInvalidInput          = "invalid_input"
	CodeNoStockAvailable      = "no_stock_available"
	CodeInsufficientStock     = "insufficient_stock"
	CodeStockChanged          = "stock_changed"
	CodeTicketNotFound        = "ticket_not_found"
	CodeTicketNotCancellable  = "ticket_not_cancellable"
	CodeTicketCodeExhausted   = "ticket_code_exhausted"
	CodeOrderNotFound         = "order_not_found"
	CodeInvalidTransition     = "invalid_status_transition"
	CodeStatusChanged         = "status_changed"
	CodeNotOwner              = "not_owner"
	CodeAdminRequired         = "admin_required"
	CodeProductNotFound       = "product_not_found"
	CodeInternal              = "internal_error"
	CodeDependencyUnavailable = "dependency_unavailable"
)

// Error is the structured failure returned by the fulfillment services. Kind is one of the
// package sentinels so errors.Is works on any returned error.
type Error struct {
	Kind        error
	Code        string
	Message     string
	FailedLines []domain.FailedLineItem
	// Status overrides the HTTP status derived from Kind.
	Status int
	cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind == target
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func newError(kind error, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func validationError(code, message string) *Error {
	return newError(ErrValidation, code, message, nil)
}

func internalError(message string, cause error) *Error {
	return newError(ErrInternal, CodeInternal, message, cause)
}

func insufficientStockError(code, message string, failed []domain.FailedLineItem) *Error {
	err := newError(ErrInsufficientStock, code, message, nil)
	err.FailedLines = failed
	return err
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Status != 0 {
		return svcErr.Status
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode extracts the stable code of an error, defaulting to internal_error.
func ErrorCode(err error) string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Code != "" {
		return svcErr.Code
	}
	return CodeInternal
}

// FailedLinesOf returns the failed cart lines attached to an error, if any.
func FailedLinesOf(err error) []domain.FailedLineItem {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.FailedLines
	}
	return nil
}

// mapRepositoryError converts a persistence failure into a service error.
func mapRepositoryError(err error, notFoundCode, subject string) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return newError(ErrNotFound, notFoundCode, subject+" not found", err)
		case repoErr.IsConflict():
			return newError(ErrConflict, CodeStatusChanged, subject+" was modified concurrently", err)
		case repoErr.IsUnavailable():
			e := newError(ErrInternal, CodeDependencyUnavailable, "storage temporarily unavailable", err)
			e.Status = http.StatusServiceUnavailable
			return e
		}
	}
	return internalError("unexpected storage failure", err)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
