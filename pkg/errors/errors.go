// Package errors defines the application error type shared by the API layers.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode is a stable, client-visible error code.
type ErrorCode string

const (
	// General (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeConflict           ErrorCode = "1005"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"
	CodeRequestCanceled    ErrorCode = "1009"

	// Archive resources (3xxx)
	CodeDocumentNotFound ErrorCode = "3001"
	CodeSessionNotFound  ErrorCode = "3002"
	CodeTurnNotFound     ErrorCode = "3003"

	// Pipeline (4xxx)
	CodeGenerationFailed    ErrorCode = "4001"
	CodeIngestFailed        ErrorCode = "4002"
	CodeRetrievalFailed     ErrorCode = "4003"
	CodeMetadataUnavailable ErrorCode = "4004"
	CodeLLMCallFailed       ErrorCode = "4005"
	CodeEmbeddingFailed     ErrorCode = "4006"

	// External services (5xxx)
	CodeDatabaseError ErrorCode = "5001"
	CodeCacheError    ErrorCode = "5002"
	CodeVectorDBError ErrorCode = "5003"
	CodeCatalogError  ErrorCode = "5004"
	CodeQueueError    ErrorCode = "5005"
)

// AppError carries a code, a message and an HTTP status.
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy of e with detail set.
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// New creates an AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap creates an AppError around err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound, CodeDocumentNotFound, CodeSessionNotFound, CodeTurnNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeRequestCanceled:
		return 499
	case CodeMetadataUnavailable, CodeEmbeddingFailed, CodeCatalogError, CodeLLMCallFailed:
		return http.StatusBadGateway
	case CodeServiceUnavailable, CodeVectorDBError, CodeQueueError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrDocumentNotFound = New(CodeDocumentNotFound, "document not found")
	ErrSessionNotFound  = New(CodeSessionNotFound, "session not found")
	ErrTurnNotFound     = New(CodeTurnNotFound, "turn not found")

	ErrGenerationFailed    = New(CodeGenerationFailed, "answer generation failed")
	ErrIngestFailed        = New(CodeIngestFailed, "document ingestion failed")
	ErrMetadataUnavailable = New(CodeMetadataUnavailable, "catalog metadata unavailable")
	ErrEmbeddingFailed     = New(CodeEmbeddingFailed, "embedding failed")
	ErrVectorDB            = New(CodeVectorDBError, "index store unavailable")
)
