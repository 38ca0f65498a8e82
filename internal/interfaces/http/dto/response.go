// Package dto holds the HTTP request and response shapes.
package dto

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
	apperrors "github.com/BerkeleyLibrary/willa/pkg/errors"
)

// Response is the envelope of every successful reply.
type Response[T any] struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    T         `json:"data,omitempty"`
	Meta    *PageMeta `json:"meta,omitempty"`
	TraceID string    `json:"trace_id,omitempty"`
}

type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type ErrorDetail struct {
	ErrorCode string `json:"error_code,omitempty"`
	Details   string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Error   *ErrorDetail `json:"error,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

func Success[T any](c *gin.Context, data T) {
	c.JSON(http.StatusOK, Response[T]{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
		TraceID: c.GetString("trace_id"),
	})
}

func SuccessWithPage[T any](c *gin.Context, data T, meta *PageMeta) {
	c.JSON(http.StatusOK, Response[T]{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
		Meta:    meta,
		TraceID: c.GetString("trace_id"),
	})
}

func Created[T any](c *gin.Context, data T) {
	c.JSON(http.StatusCreated, Response[T]{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
		TraceID: c.GetString("trace_id"),
	})
}

func Accepted[T any](c *gin.Context, data T) {
	c.JSON(http.StatusAccepted, Response[T]{
		Code:    http.StatusAccepted,
		Message: "accepted",
		Data:    data,
		TraceID: c.GetString("trace_id"),
	})
}

func Error(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, ErrorResponse{
		Code:    httpCode,
		Message: message,
		TraceID: c.GetString("trace_id"),
	})
}

// AppError writes err with its HTTP status and stable error code.
func AppError(c *gin.Context, err *apperrors.AppError) {
	c.JSON(err.HTTPStatus, ErrorResponse{
		Code:    err.HTTPStatus,
		Message: err.Message,
		Error: &ErrorDetail{
			ErrorCode: string(err.Code),
			Details:   err.Detail,
		},
		TraceID: c.GetString("trace_id"),
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, http.StatusServiceUnavailable, message)
}

func NewPageMeta[T any](r *repository.PagedResult[T]) *PageMeta {
	return &PageMeta{
		Page:       r.Page,
		PageSize:   r.PageSize,
		Total:      r.Total,
		TotalPages: r.TotalPages,
	}
}

type IngestResponse struct {
	DocumentID    string `json:"document_id"`
	ChunksWritten int    `json:"chunks_written"`
	Replaced      bool   `json:"replaced"`
	Skipped       bool   `json:"skipped"`
	ContentHash   string `json:"content_hash"`
}

func NewIngestResponse(r *ingest.IngestResult) IngestResponse {
	return IngestResponse{
		DocumentID:    r.DocumentID,
		ChunksWritten: r.ChunksWritten,
		Replaced:      r.Replaced,
		Skipped:       r.Skipped,
		ContentHash:   r.ContentHash,
	}
}

type JobResponse struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
}

type DeleteResponse struct {
	DocumentID string `json:"document_id"`
	Deleted    bool   `json:"deleted"`
}

type MetadataResponse struct {
	Metadata *entity.Metadata `json:"metadata"`
	Citation string           `json:"citation"`
}

type SessionResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

func NewSessionResponse(s *entity.ConversationSession) SessionResponse {
	return SessionResponse{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt}
}

type AnswerResponse struct {
	SessionID       string   `json:"session_id"`
	TurnID          string   `json:"turn_id"`
	State           string   `json:"state"`
	Text            string   `json:"text"`
	Citations       string   `json:"citations"`
	UsedDocumentIDs []string `json:"used_document_ids"`
}

func NewAnswerResponse(r *conversation.AnswerResult) AnswerResponse {
	used := r.UsedDocumentIDs
	if used == nil {
		used = []string{}
	}
	return AnswerResponse{
		SessionID:       r.SessionID,
		TurnID:          r.TurnID,
		State:           string(r.State),
		Text:            r.Text,
		Citations:       r.Citations,
		UsedDocumentIDs: used,
	}
}

type TurnResponse struct {
	ID              string    `json:"id"`
	Seq             int       `json:"seq"`
	Query           string    `json:"query"`
	Answer          string    `json:"answer"`
	Citations       string    `json:"citations"`
	UsedDocumentIDs []string  `json:"used_document_ids"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

func NewTurnResponses(turns []*entity.ConversationTurn) []TurnResponse {
	out := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		out = append(out, TurnResponse{
			ID:              t.ID,
			Seq:             t.Seq,
			Query:           t.Query,
			Answer:          t.Answer,
			Citations:       t.Citations,
			UsedDocumentIDs: append([]string{}, t.UsedDocumentIDs...),
			Status:          string(t.Status),
			CreatedAt:       t.CreatedAt,
		})
	}
	return out
}

type StepResponse struct {
	Seq        int    `json:"seq"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	DurationMs int64  `json:"duration_ms"`
	Errored    bool   `json:"errored"`
	Error      string `json:"error,omitempty"`
}

func NewStepResponses(steps []entity.PipelineStep) []StepResponse {
	out := make([]StepResponse, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepResponse{
			Seq:        s.Seq,
			Kind:       string(s.Kind),
			Name:       s.Name,
			Input:      s.Input,
			Output:     s.Output,
			DurationMs: s.Duration().Milliseconds(),
			Errored:    s.Errored,
			Error:      s.Error,
		})
	}
	return out
}
