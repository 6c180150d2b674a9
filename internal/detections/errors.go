package detections

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrRetryNotAllowed = errors.New("only failed analyses can be retried")
)

// Stable error codes surfaced in API payloads and pipeline results.
const (
	ErrorCodeAnalysisFailed  = "ANALYSIS_FAILED"
	ErrorCodeNoFileUploaded  = "NO_FILE_UPLOADED"
	ErrorCodeInvalidFileType = "INVALID_FILE_TYPE"
	ErrorCodeFileTooLarge    = "FILE_TOO_LARGE"
	ErrorCodeInvalidProvider = "INVALID_PROVIDER"
	ErrorCodeNotFound        = "NOT_FOUND"
	ErrorCodeInvalidStatus   = "INVALID_STATUS"
	ErrorCodeAIUnavailable   = "AI_SERVICE_UNAVAILABLE"
	ErrorCodeInternal        = "INTERNAL_ERROR"
)
