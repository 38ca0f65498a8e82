package postgres

import (
	"context"
	"fmt"

	"github.com/BerkeleyLibrary/willa/internal/domain/entity"
	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
)

const stepBatchSize = 100

type PipelineStepRepository struct {
	client *Client
}

var _ repository.PipelineStepRepository = (*PipelineStepRepository)(nil)

func NewPipelineStepRepository(client *Client) *PipelineStepRepository {
	return &PipelineStepRepository{client: client}
}

func (r *PipelineStepRepository) CreateBatch(ctx context.Context, steps []entity.PipelineStep) error {
	if len(steps) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "postgres.PipelineStepRepository.CreateBatch")
	defer span.End()

	rows := make([]entity.PipelineStep, len(steps))
	copy(rows, steps)
	for i := range rows {
		rows[i].ID = 0
	}
	if err := getDB(ctx, r.client.db).CreateInBatches(&rows, stepBatchSize).Error; err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to export pipeline steps: %w", err)
	}
	return nil
}

func (r *PipelineStepRepository) ListByTurn(ctx context.Context, turnID string) ([]entity.PipelineStep, error) {
	ctx, span := tracer.Start(ctx, "postgres.PipelineStepRepository.ListByTurn")
	defer span.End()

	var steps []entity.PipelineStep
	if err := getDB(ctx, r.client.db).
		Where("turn_id = ?", turnID).
		Order("seq ASC").
		Find(&steps).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list pipeline steps: %w", err)
	}
	return steps, nil
}
