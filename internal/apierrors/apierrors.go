// Package apierrors provides the error taxonomy and HTTP error
// responses for the lookup API.
package apierrors

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// ErrorCodeInvalidRequest covers request validation failures:
	// missing, oversized, or malformed identifier batches.
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	// ErrorCodeRateLimited covers admission rejections.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorCodeInternalError covers unexpected dataset read failures.
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	// ErrorCodeServiceDown covers an unreachable dataset.
	ErrorCodeServiceDown ErrorCode = "SERVICE_UNAVAILABLE"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error response functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// WriteErrorResponse writes a formatted error response.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a 400 response. Validation failures are
// caller faults and are never logged as server errors.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}

// WriteInternalError writes a 500 response with a generic message; the
// detail stays server-side.
func (h *Handler) WriteInternalError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error", requestID)
}

// WriteServiceUnavailable writes a 503 response.
func (h *Handler) WriteServiceUnavailable(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusServiceUnavailable, ErrorCodeServiceDown, message, requestID)
}

// WriteRateLimited writes a 429 response carrying the retry hint and
// the rate-limit headers.
func (h *Handler) WriteRateLimited(w http.ResponseWriter, retryAfter time.Duration, limit int, requestID string) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")

	h.WriteErrorResponse(w, http.StatusTooManyRequests, ErrorCodeRateLimited, "too many requests", requestID)
}
