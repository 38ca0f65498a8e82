package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/BerkeleyLibrary/willa/internal/domain/repository"
)

// TxManager implements repository.Transactor. Repositories called with the
// ctx handed to fn run on the same *gorm.DB transaction.
type TxManager struct {
	client *Client
}

var _ repository.Transactor = (*TxManager)(nil)

func NewTxManager(client *Client) *TxManager {
	return &TxManager{client: client}
}

func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Nested calls join the outer transaction.
	if tx := getTxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "postgres.WithTransaction")
	defer span.End()

	err := m.client.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, repository.TxKey{}, tx))
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("transaction failed: %w", err)
	}
	return nil
}

func getTxFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(repository.TxKey{}).(*gorm.DB); ok {
		return tx
	}
	return nil
}

// getDB returns the transaction bound to ctx, or db scoped to ctx.
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := getTxFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
