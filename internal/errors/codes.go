// Package errors provides structured error handling for fusearch.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index database, files)
//   - 3XX: Indexing errors (extraction, pipeline)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index database and file I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryIndexing indicates per-file indexing errors.
	CategoryIndexing Category = "INDEXING"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeFileNotFound       = "ERR_201_FILE_NOT_FOUND"
	ErrCodeStorageUnavailable = "ERR_202_STORAGE_UNAVAILABLE"
	ErrCodeWriteFailed        = "ERR_203_WRITE_FAILED"
	ErrCodeMalformedRecord    = "ERR_204_MALFORMED_RECORD"
	ErrCodeCorruptIndex       = "ERR_205_CORRUPT_INDEX"

	// Indexing errors (300-399)
	ErrCodeExtractionFailed  = "ERR_301_EXTRACTION_FAILED"
	ErrCodeExtractionTimeout = "ERR_302_EXTRACTION_TIMEOUT"
	ErrCodeAlreadyRunning    = "ERR_303_ALREADY_RUNNING"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath  = "ERR_402_INVALID_PATH"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryIndexing
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity from error code.
// Per-file indexing errors are recovered locally and only warn.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStorageUnavailable, ErrCodeCorruptIndex:
		return SeverityFatal
	case ErrCodeExtractionFailed, ErrCodeExtractionTimeout, ErrCodeMalformedRecord:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// isRetryableCode determines if an error code is retryable.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeWriteFailed, ErrCodeExtractionTimeout, ErrCodeAlreadyRunning:
		return true
	default:
		return false
	}
}
