package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/swappo/pin-server-go/internal/model"
)

type TradeRepository interface {
	FindByID(ctx context.Context, id string) (*model.Trade, error)
	// Complete transitions a trade from ACCEPTED to COMPLETED. It returns
	// false when the trade is missing or no longer in ACCEPTED, so a repeat
	// call after a successful verification is a harmless no-op.
	Complete(ctx context.Context, id string) (bool, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) TradeRepository
}

// tradeDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type tradeDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type tradeRepo struct {
	db tradeDB
}

func NewTradeRepository(db *sqlx.DB) TradeRepository {
	return &tradeRepo{db: db}
}

func (r *tradeRepo) WithTx(tx *sqlx.Tx) TradeRepository {
	return &tradeRepo{db: tx}
}

func (r *tradeRepo) FindByID(ctx context.Context, id string) (*model.Trade, error) {
	var trade model.Trade
	err := r.db.GetContext(ctx, &trade, `
		SELECT * FROM trades WHERE id = $1
	`, id)
	return HandleNotFound(&trade, err)
}

func (r *tradeRepo) Complete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE trades SET
			status = 'COMPLETED',
			updated_at = NOW()
		WHERE id = $1 AND status = 'ACCEPTED'
	`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
