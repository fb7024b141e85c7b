package repositories

import "fmt"

// RecordErrorCode enumerates failure reasons shared by the ticket, order and counter stores.
type RecordErrorCode string

const (
	// RecordErrorNotFound indicates the record does not exist.
	RecordErrorNotFound RecordErrorCode = "record_not_found"
	// RecordErrorCodeConflict indicates another record already owns the generated code.
	RecordErrorCodeConflict RecordErrorCode = "record_code_conflict"
	// RecordErrorIDConflict indicates a record with the same document ID already exists.
	RecordErrorIDConflict RecordErrorCode = "record_id_conflict"
	// RecordErrorStatusMismatch indicates the stored status differs from the expected one.
	RecordErrorStatusMismatch RecordErrorCode = "record_status_mismatch"
	// RecordErrorInvalidInput indicates the caller supplied an unusable identifier or argument.
	RecordErrorInvalidInput RecordErrorCode = "record_invalid_input"
)

// RecordError wraps ticket and order persistence failures with machine readable codes.
type RecordError struct {
	Op      string
	Code    RecordErrorCode
	Message string
	Current string
	Err     error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *RecordError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *RecordError) IsNotFound() bool { return e != nil && e.Code == RecordErrorNotFound }

func (e *RecordError) IsConflict() bool {
	return e != nil && (e.Code == RecordErrorCodeConflict || e.Code == RecordErrorIDConflict || e.Code == RecordErrorStatusMismatch)
}

func (e *RecordError) IsUnavailable() bool { return false }

// NewRecordError constructs a typed record error.
func NewRecordError(code RecordErrorCode, message string, err error) *RecordError {
	if message == "" {
		message = string(code)
	}
	return &RecordError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewStatusMismatchError reports the status actually stored when a conditional update is refused.
func NewStatusMismatchError(id string, current string) *RecordError {
	err := NewRecordError(RecordErrorStatusMismatch, fmt.Sprintf("%s is %s", id, current), nil)
	err.Current = current
	return err
}
