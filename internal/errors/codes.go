// Package errors provides structured error handling for hybridrank.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index, registry, disk)
//   - 3XX: Network errors (embedding and rerank endpoints)
//   - 4XX: Validation errors
//   - 5XX: Retrieval pipeline errors
package errors

// Category defines error categories for classification.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryPipeline   Category = "PIPELINE"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal means the process cannot serve queries until fixed.
	SeverityFatal Severity = "FATAL"
	// SeverityError means the query failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning means a transient failure; retrying may help.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeDataDirLocked     = "ERR_201_DATA_DIR_LOCKED"
	ErrCodeIndexMissing      = "ERR_202_INDEX_MISSING"
	ErrCodeDiskFull          = "ERR_203_DISK_FULL"
	ErrCodeInputUnreadable   = "ERR_204_INPUT_UNREADABLE"
	ErrCodeCorruptIndex      = "ERR_205_CORRUPT_INDEX"
	ErrCodeRegistryFailed    = "ERR_206_REGISTRY_FAILED"
	ErrCodeDimensionMismatch = "ERR_207_DIMENSION_MISMATCH"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeCircuitOpen        = "ERR_303_CIRCUIT_OPEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput  = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidTopK   = "ERR_402_INVALID_TOP_K"
	ErrCodeQueryEmpty    = "ERR_404_QUERY_EMPTY"
	ErrCodeQueryTooLong  = "ERR_405_QUERY_TOO_LONG"
	ErrCodeInvalidRecord = "ERR_406_INVALID_RECORD"

	// Pipeline errors (500-599)
	ErrCodeInternal          = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed   = "ERR_502_EMBEDDING_FAILED"
	ErrCodeSearchFailed      = "ERR_503_SEARCH_FAILED"
	ErrCodeIngestFailed      = "ERR_505_INGEST_FAILED"
	ErrCodeRerankFailed      = "ERR_506_RERANK_FAILED"
	ErrCodeIdentityIntegrity = "ERR_507_IDENTITY_INTEGRITY"
)

// categoryFromCode reads the category from the code's hundreds digit.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryPipeline
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryPipeline
	}
}

func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeDiskFull, ErrCodeIdentityIntegrity:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeCircuitOpen, ErrCodeDataDirLocked:
		return true
	default:
		return false
	}
}
