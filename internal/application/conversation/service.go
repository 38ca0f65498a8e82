package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

const defaultHistoryTurns = 3

// AnswerResult is what a caller of Answer receives.
type AnswerResult struct {
	SessionID       string   `json:"session_id"`
	TurnID          string   `json:"turn_id"`
	State           State    `json:"state"`
	Text            string   `json:"text"`
	Citations       string   `json:"citations"`
	UsedDocumentIDs []string `json:"used_document_ids"`
}

// Service answers questions within persisted sessions.
type Service struct {
	graph    *Graph
	sessions repository.ConversationSessionRepository
	turns    repository.ConversationTurnRepository
	tx       repository.Transactor
	steps    repository.PipelineStepRepository

	autoCreate   bool
	historyTurns int
}

type ServiceOption func(*Service)

// WithAutoCreate makes Answer create unknown sessions instead of failing.
func WithAutoCreate(enabled bool) ServiceOption {
	return func(s *Service) { s.autoCreate = enabled }
}

// WithStepExport copies each turn's pipeline steps to repo after the turn.
func WithStepExport(repo repository.PipelineStepRepository) ServiceOption {
	return func(s *Service) { s.steps = repo }
}

// WithHistoryTurns sets how many earlier turns are loaded as history.
func WithHistoryTurns(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.historyTurns = n
		}
	}
}

func NewService(
	graph *Graph,
	sessions repository.ConversationSessionRepository,
	turns repository.ConversationTurnRepository,
	tx repository.Transactor,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		graph:        graph,
		sessions:     sessions,
		turns:        turns,
		tx:           tx,
		historyTurns: defaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateSession(ctx context.Context, title string) (*entity.ConversationSession, error) {
	session := entity.NewConversationSession("", strings.TrimSpace(title))
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Answer runs one turn for sessionID. The turn is stored only when it reaches
// DONE; failed and cancelled turns leave the history untouched.
func (s *Service) Answer(ctx context.Context, sessionID, query string) (*AnswerResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	session, err := s.session(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, logger.SessionIDKey, session.ID)

	history, err := s.turns.ListRecent(ctx, session.ID, s.historyTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	res, err := s.graph.Run(ctx, &TurnInput{
		TurnID:    uuid.NewString(),
		SessionID: session.ID,
		Query:     query,
		History:   history,
	})
	if err != nil {
		return nil, err
	}

	if res.State == StateDone {
		status := entity.TurnStatusAnswered
		if res.Trivial {
			status = entity.TurnStatusDirect
		}
		t := entity.NewConversationTurn(res.TurnID, session.ID, query, res.Text, res.Citations, res.UsedDocumentIDs, status)
		err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
			if err := s.turns.Append(ctx, t); err != nil {
				return err
			}
			return s.sessions.Touch(ctx, session.ID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to save turn: %w", err)
		}
	}
	s.exportSteps(ctx, res.Steps)

	return &AnswerResult{
		SessionID:       session.ID,
		TurnID:          res.TurnID,
		State:           res.State,
		Text:            res.Text,
		Citations:       res.Citations,
		UsedDocumentIDs: res.UsedDocumentIDs,
	}, nil
}

func (s *Service) session(ctx context.Context, id string) (*entity.ConversationSession, error) {
	if id != "" {
		session, err := s.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if session != nil {
			return session, nil
		}
	}
	if !s.autoCreate {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
	}

	session := entity.NewConversationSession(id, "")
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info(ctx, "session created", "session_id", session.ID)
	return session, nil
}

func (s *Service) exportSteps(ctx context.Context, steps []entity.PipelineStep) {
	if s.steps == nil || len(steps) == 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if err := s.steps.CreateBatch(ctx, steps); err != nil {
		logger.Warn(ctx, "failed to export pipeline steps", "error", err.Error())
	}
}

// History lists a session's stored turns, oldest first.
func (s *Service) History(ctx context.Context, sessionID string, p repository.Pagination) (*repository.PagedResult[*entity.ConversationTurn], error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s.turns.ListBySession(ctx, sessionID, p)
}

// Steps returns the trace of a turn, from memory when it is still held there
// and from the export repository otherwise.
func (s *Service) Steps(ctx context.Context, turnID string) ([]entity.PipelineStep, error) {
	if steps := s.graph.Arena().Steps(turnID); len(steps) > 0 {
		return steps, nil
	}
	if s.steps == nil {
		return nil, nil
	}
	return s.steps.ListByTurn(ctx, turnID)
}
