package handler

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/dto"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

// ConversationService is implemented by conversation.Service.
type ConversationService interface {
	CreateSession(ctx context.Context, title string) (*entity.ConversationSession, error)
	Answer(ctx context.Context, sessionID, query string) (*conversation.AnswerResult, error)
	History(ctx context.Context, sessionID string, p repository.Pagination) (*repository.PagedResult[*entity.ConversationTurn], error)
	Steps(ctx context.Context, turnID string) ([]entity.PipelineStep, error)
}

type ConversationHandler struct {
	svc ConversationService
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// CreateSession starts a new conversation.
// POST /api/v1/sessions
func (h *ConversationHandler) CreateSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	session, err := h.svc.CreateSession(c.Request.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		respondError(c, "failed to create session", err)
		return
	}
	dto.Created(c, dto.NewSessionResponse(session))
}

// Answer runs one conversation turn. A FAILED turn is still a 200 carrying
// the apology text and state FAILED.
// POST /api/v1/sessions/:sid/answer
func (h *ConversationHandler) Answer(c *gin.Context) {
	var req dto.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	sid := strings.TrimSpace(c.Param("sid"))
	ctx := logger.WithContext(c.Request.Context(), logger.SessionIDKey, sid)
	res, err := h.svc.Answer(ctx, sid, req.Query)
	if err != nil {
		respondError(c, "answer failed", err)
		return
	}
	dto.Success(c, dto.NewAnswerResponse(res))
}

// History lists the stored turns of a session.
// GET /api/v1/sessions/:sid/turns
func (h *ConversationHandler) History(c *gin.Context) {
	page, err := h.svc.History(c.Request.Context(), strings.TrimSpace(c.Param("sid")), dto.BindPagination(c))
	if err != nil {
		respondError(c, "failed to list turns", err)
		return
	}
	dto.SuccessWithPage(c, dto.NewTurnResponses(page.Items), dto.NewPageMeta(page))
}

// Steps returns the pipeline trace of a turn.
// GET /api/v1/turns/:tid/steps
func (h *ConversationHandler) Steps(c *gin.Context) {
	tid := strings.TrimSpace(c.Param("tid"))
	steps, err := h.svc.Steps(c.Request.Context(), tid)
	if err != nil {
		respondError(c, "failed to load steps", err)
		return
	}
	if len(steps) == 0 {
		dto.NotFound(c, "turn not found")
		return
	}
	dto.Success(c, dto.NewStepResponses(steps))
}
