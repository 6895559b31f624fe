package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/docqa/internal/domain"
)

// ErrorCode is the machine-readable error identifier in API responses.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest           ErrorCode = "bad_request"
	ErrorCodeValidationFailed     ErrorCode = "validation_failed"
	ErrorCodeVectorDimMismatch    ErrorCode = "vector_dim_mismatch"
	ErrorCodeIngestInProgress     ErrorCode = "ingest_in_progress"
	ErrorCodeBudgetExceeded       ErrorCode = "embedding_budget_exceeded"
	ErrorCodeEmbeddingUnavailable ErrorCode = "embedding_unavailable"
	ErrorCodeRetrievalUnavailable ErrorCode = "retrieval_unavailable"
	ErrorCodeRequestCanceled      ErrorCode = "request_canceled"
	ErrorCodeInternalError        ErrorCode = "internal_error"
)

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Order matters: a retrieval failure also wraps ErrEmbeddingUnavailable.
func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorCodeValidationFailed),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, ErrorCodeVectorDimMismatch),
		sentinelHandler(domain.ErrIngestInProgress, http.StatusConflict, ErrorCodeIngestInProgress),
		sentinelHandler(domain.ErrEmbeddingBudgetExceeded, http.StatusTooManyRequests, ErrorCodeBudgetExceeded),
		sentinelHandler(domain.ErrRetrievalUnavailable, http.StatusServiceUnavailable, ErrorCodeRetrievalUnavailable),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, ErrorCodeEmbeddingUnavailable),
		// 499 as in nginx: the client went away, nobody reads the body.
		sentinelHandler(errClientGone, 499, ErrorCodeRequestCanceled),
	}
}

var errClientGone = errors.New("request canceled")

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrVectorDimMismatch,
		domain.ErrIngestInProgress,
		domain.ErrEmbeddingBudgetExceeded,
		domain.ErrRetrievalUnavailable,
		domain.ErrEmbeddingUnavailable,
		errClientGone,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
