package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
)

type ConversationSessionRepository struct {
	client *Client
}

var _ repository.ConversationSessionRepository = (*ConversationSessionRepository)(nil)

func NewConversationSessionRepository(client *Client) *ConversationSessionRepository {
	return &ConversationSessionRepository{client: client}
}

func (r *ConversationSessionRepository) Create(ctx context.Context, session *entity.ConversationSession) error {
	ctx, span := tracer.Start(ctx, "postgres.ConversationSessionRepository.Create")
	defer span.End()

	if err := getDB(ctx, r.client.db).Create(session).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create conversation session: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the session does not exist.
func (r *ConversationSessionRepository) GetByID(ctx context.Context, id string) (*entity.ConversationSession, error) {
	ctx, span := tracer.Start(ctx, "postgres.ConversationSessionRepository.GetByID")
	defer span.End()

	var session entity.ConversationSession
	if err := getDB(ctx, r.client.db).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get conversation session: %w", err)
	}
	return &session, nil
}

func (r *ConversationSessionRepository) Touch(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.ConversationSessionRepository.Touch")
	defer span.End()

	err := getDB(ctx, r.client.db).
		Model(&entity.ConversationSession{}).
		Where("id = ?", id).
		Update("updated_at", time.Now()).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to touch conversation session: %w", err)
	}
	return nil
}
