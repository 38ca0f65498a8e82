package repository

import (
	"context"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
)

type ConversationSessionRepository interface {
	Create(ctx context.Context, session *entity.ConversationSession) error
	GetByID(ctx context.Context, id string) (*entity.ConversationSession, error)
	Touch(ctx context.Context, id string) error
}

type ConversationTurnRepository interface {
	// Append assigns the next Seq for the session and stores the turn.
	Append(ctx context.Context, turn *entity.ConversationTurn) error
	// ListRecent returns up to limit most recent turns, oldest first.
	ListRecent(ctx context.Context, sessionID string, limit int) ([]*entity.ConversationTurn, error)
	ListBySession(ctx context.Context, sessionID string, pagination Pagination) (*PagedResult[*entity.ConversationTurn], error)
}

// PipelineStepRepository exports turn traces to durable storage.
type PipelineStepRepository interface {
	CreateBatch(ctx context.Context, steps []entity.PipelineStep) error
	ListByTurn(ctx context.Context, turnID string) ([]entity.PipelineStep, error)
}
