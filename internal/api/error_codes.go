// internal/api/error_codes.go
package api

// API error code constants
const (
	// Generic errors
	ErrorBadRequest     = "BAD_REQUEST"
	ErrorInvalidRequest = "INVALID_REQUEST"
	ErrorNotFound       = "NOT_FOUND"
	ErrorInternalError  = "INTERNAL_ERROR"
	ErrorConflict       = "CONFLICT"
	ErrorForbidden      = "FORBIDDEN"
	ErrorRateLimited    = "RATE_LIMIT_EXCEEDED"

	// Patch engine errors
	ErrorPatchValidationFailed = "PATCH_VALIDATION_FAILED"
	ErrorPatchApplyFailed      = "PATCH_APPLY_FAILED"

	// Scene / upload errors
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"
	ErrorFileInvalid      = "FILE_INVALID"
	ErrorFileTooLarge     = "FILE_TOO_LARGE"
	ErrorSceneInvalid     = "SCENE_INVALID"

	// Translation errors
	ErrorTranslationFailed = "TRANSLATION_FAILED"

	// Generation errors
	ErrorGenerationFailed = "GENERATION_FAILED"

	// Timeline errors
	ErrorTimelineEntryNotFound = "TIMELINE_ENTRY_NOT_FOUND"
	ErrorTimelineReadFailed    = "TIMELINE_READ_FAILED"
	ErrorTimelineWriteFailed   = "TIMELINE_WRITE_FAILED"

	// Export errors
	ErrorExportFailed = "EXPORT_FAILED"

	// LLM / settings errors
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorConnectionFailed      = "CONNECTION_FAILED"
)
