// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk)
//   - 3XX: Pipeline errors (diff, flush)
//   - 4XX: Service errors (extraction, embedding)
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryPipeline indicates indexing pipeline errors.
	CategoryPipeline Category = "PIPELINE"
	// CategoryService indicates errors from the extraction/embedding services.
	CategoryService Category = "SERVICE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort the run.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the run can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileRead     = "ERR_202_FILE_READ"
	ErrCodeFileTooLarge = "ERR_203_FILE_TOO_LARGE"
	ErrCodeCorruptIndex = "ERR_204_CORRUPT_INDEX"
	ErrCodeIndexLocked  = "ERR_205_INDEX_LOCKED"
	ErrCodeScanFailed   = "ERR_206_SCAN_FAILED"

	// Pipeline errors (300-399)
	ErrCodeDiffFailed     = "ERR_301_DIFF_FAILED"
	ErrCodeFlushFailed    = "ERR_302_FLUSH_FAILED"
	ErrCodeAlreadyRunning = "ERR_303_ALREADY_RUNNING"
	ErrCodeClearDenied    = "ERR_304_CLEAR_DENIED"

	// Service errors (400-499)
	ErrCodeExtractionFailed   = "ERR_401_EXTRACTION_FAILED"
	ErrCodeEmbeddingFailed    = "ERR_402_EMBEDDING_FAILED"
	ErrCodeServiceUnavailable = "ERR_403_SERVICE_UNAVAILABLE"
	ErrCodeServiceTimeout     = "ERR_404_SERVICE_TIMEOUT"

	// Internal errors (500-599)
	ErrCodeInternal    = "ERR_501_INTERNAL"
	ErrCodeStoreFailed = "ERR_502_STORE_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryPipeline
	case '4':
		return CategoryService
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDiffFailed, ErrCodeFlushFailed, ErrCodeCorruptIndex, ErrCodeIndexLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeServiceUnavailable, ErrCodeServiceTimeout:
		return true
	default:
		return false
	}
}
