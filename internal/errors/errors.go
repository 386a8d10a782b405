package errors

import (
	stderrors "errors"
	"fmt"
)

// FusearchError is the structured error type for fusearch.
// It carries enough context for logging, CLI output, and recovery decisions.
type FusearchError struct {
	// Code is the unique error code (e.g., "ERR_203_WRITE_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *FusearchError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *FusearchError) Unwrap() error {
	return e.Cause
}

// Is matches by code, so errors.Is(err, &FusearchError{Code: ...}) works
// through wrapping.
func (e *FusearchError) Is(target error) bool {
	if t, ok := target.(*FusearchError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *FusearchError) WithDetail(key, value string) *FusearchError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *FusearchError) WithSuggestion(suggestion string) *FusearchError {
	e.Suggestion = suggestion
	return e
}

// New creates a new FusearchError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *FusearchError {
	return &FusearchError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a FusearchError from an existing error.
func Wrap(code string, err error) *FusearchError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks against the recoverable taxonomy.
var (
	ErrStorageUnavailable = &FusearchError{Code: ErrCodeStorageUnavailable}
	ErrWriteFailed        = &FusearchError{Code: ErrCodeWriteFailed}
	ErrMalformedRecord    = &FusearchError{Code: ErrCodeMalformedRecord}
	ErrExtractionFailed   = &FusearchError{Code: ErrCodeExtractionFailed}
	ErrExtractionTimeout  = &FusearchError{Code: ErrCodeExtractionTimeout}
	ErrInvalidInput       = &FusearchError{Code: ErrCodeInvalidInput}
)

// StorageUnavailable reports that the index database at path cannot be opened.
func StorageUnavailable(path string, cause error) *FusearchError {
	return New(ErrCodeStorageUnavailable, "index storage unavailable", cause).
		WithDetail("path", path).
		WithSuggestion("check that the directory is writable, or remove the index file and re-run 'fusearch index'")
}

// WriteFailed reports a failed upsert of the document at url.
func WriteFailed(url string, cause error) *FusearchError {
	return New(ErrCodeWriteFailed, "failed to write document", cause).
		WithDetail("url", url)
}

// MalformedStoredRecord reports a stored term-frequency map that cannot be decoded.
func MalformedStoredRecord(url string, cause error) *FusearchError {
	return New(ErrCodeMalformedRecord, "stored document record is malformed", cause).
		WithDetail("url", url).
		WithSuggestion("run 'fusearch check --repair' or touch the file to force re-indexing")
}

// ExtractionFailed reports that text could not be extracted from path.
func ExtractionFailed(path string, cause error) *FusearchError {
	return New(ErrCodeExtractionFailed, "text extraction failed", cause).
		WithDetail("path", path)
}

// ExtractionTimeout reports that extraction of path exceeded its time budget.
func ExtractionTimeout(path string, cause error) *FusearchError {
	return New(ErrCodeExtractionTimeout, "text extraction timed out", cause).
		WithDetail("path", path)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *FusearchError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *FusearchError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *FusearchError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err carries a retryable FusearchError.
func IsRetryable(err error) bool {
	var fe *FusearchError
	if stderrors.As(err, &fe) {
		return fe.Retryable
	}
	return false
}

// IsFatal reports whether err carries a FusearchError of fatal severity.
func IsFatal(err error) bool {
	var fe *FusearchError
	if stderrors.As(err, &fe) {
		return fe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first FusearchError in the chain.
func GetCode(err error) string {
	var fe *FusearchError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// GetCategory extracts the category from the first FusearchError in the chain.
func GetCategory(err error) Category {
	var fe *FusearchError
	if stderrors.As(err, &fe) {
		return fe.Category
	}
	return ""
}

// As is a convenience wrapper returning the first FusearchError in the chain.
func As(err error) (*FusearchError, bool) {
	var fe *FusearchError
	ok := stderrors.As(err, &fe)
	return fe, ok
}
