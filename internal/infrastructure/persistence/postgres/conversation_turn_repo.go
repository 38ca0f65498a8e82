package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
)

type ConversationTurnRepository struct {
	client *Client
}

var _ repository.ConversationTurnRepository = (*ConversationTurnRepository)(nil)

func NewConversationTurnRepository(client *Client) *ConversationTurnRepository {
	return &ConversationTurnRepository{client: client}
}

// Append locks the session row so concurrent appends to one session get
// consecutive sequence numbers. Call it inside a transaction.
func (r *ConversationTurnRepository) Append(ctx context.Context, turn *entity.ConversationTurn) error {
	ctx, span := tracer.Start(ctx, "postgres.ConversationTurnRepository.Append")
	defer span.End()

	db := getDB(ctx, r.client.db)

	var session entity.ConversationSession
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id").
		First(&session, "id = ?", turn.SessionID).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to lock conversation session: %w", err)
	}

	var maxSeq int
	if err := db.Model(&entity.ConversationTurn{}).
		Where("session_id = ?", turn.SessionID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read turn sequence: %w", err)
	}
	turn.Seq = maxSeq + 1

	if err := db.Create(turn).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create conversation turn: %w", err)
	}
	return nil
}

func (r *ConversationTurnRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]*entity.ConversationTurn, error) {
	ctx, span := tracer.Start(ctx, "postgres.ConversationTurnRepository.ListRecent")
	defer span.End()

	query := getDB(ctx, r.client.db).
		Where("session_id = ?", sessionID).
		Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var turns []*entity.ConversationTurn
	if err := query.Find(&turns).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list recent conversation turns: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (r *ConversationTurnRepository) ListBySession(ctx context.Context, sessionID string, pagination repository.Pagination) (*repository.PagedResult[*entity.ConversationTurn], error) {
	ctx, span := tracer.Start(ctx, "postgres.ConversationTurnRepository.ListBySession")
	defer span.End()

	query := getDB(ctx, r.client.db).Model(&entity.ConversationTurn{}).Where("session_id = ?", sessionID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count conversation turns: %w", err)
	}

	var turns []*entity.ConversationTurn
	if err := query.Order("seq ASC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&turns).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list conversation turns: %w", err)
	}

	return repository.NewPagedResult(turns, total, pagination), nil
}
