// internal/api/response_helpers.go
package api

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ResponseHelper builds uniform API responses
type ResponseHelper struct{}

// NewResponseHelper creates a response helper
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success writes a 200 response with the standard envelope
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created writes a 201 response
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "resource created"
	}

	c.JSON(http.StatusCreated, response)
}

// sanitizeErrorMessage removes sensitive information from error messages
func sanitizeErrorMessage(message string) string {
	lowered := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "password"} {
		if strings.Contains(lowered, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error writes an error response with the standard envelope
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest writes a 400 response
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// InvalidRequest writes a 400 response for request binding failures
func (rh *ResponseHelper) InvalidRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorInvalidRequest, message, details...)
}

// NotFound writes a 404 response with a resource-specific code
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	message := resource + " not found"
	code := ErrorNotFound
	if resource != "" {
		code = rh.getResourceNotFoundCode(resource)
	}
	rh.Error(c, http.StatusNotFound, code, message, details...)
}

// Unprocessable writes a 422 response, used when a structurally valid
// patch cannot be applied to the document
func (rh *ResponseHelper) Unprocessable(c *gin.Context, errorCode, message string, details ...string) {
	rh.Error(c, http.StatusUnprocessableEntity, errorCode, message, details...)
}

// InternalError writes a 500 response
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// Conflict writes a 409 response
func (rh *ResponseHelper) Conflict(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusConflict, ErrorConflict, message, details...)
}

// ServiceUnavailable writes a 503 response
func (rh *ResponseHelper) ServiceUnavailable(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusServiceUnavailable, ErrorLLMServiceUnavailable, message, details...)
}

// PaginatedSuccess writes a 200 response with pagination metadata
func (rh *ResponseHelper) PaginatedSuccess(c *gin.Context, data interface{}, meta *PaginationMeta, message ...string) {
	response := &PaginatedResponse{
		APIResponse: &APIResponse{
			Success:   true,
			Data:      data,
			Timestamp: time.Now(),
			RequestID: rh.getRequestID(c),
		},
		Meta: meta,
	}

	if len(message) > 0 {
		response.APIResponse.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// getRequestID reads the request id set by the request id middleware
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}
	return ""
}

// getResourceNotFoundCode maps a resource name to its error code
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch strings.ToLower(resource) {
	case "run", "timeline entry":
		return ErrorTimelineEntryNotFound
	case "output", "file":
		return "FILE_NOT_FOUND"
	default:
		return "RESOURCE_NOT_FOUND"
	}
}

// StreamResponse streams chunked content, used for large payloads
func (rh *ResponseHelper) StreamResponse(c *gin.Context, contentType string, callback func(writer gin.ResponseWriter) error) {
	c.Header("Content-Type", contentType)
	c.Header("Transfer-Encoding", "chunked")
	c.Header("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		if err := callback(c.Writer); err != nil {
			// Log but do not interrupt the stream
			log.Printf("stream response error: %v", err)
			return false
		}
		return true
	})
}

// DownloadResponse forces a binary download
func (rh *ResponseHelper) DownloadResponse(c *gin.Context, content []byte, filename string, contentType string) {
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Length", fmt.Sprintf("%d", len(content)))
	c.Data(http.StatusOK, contentType, content)
}
