package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/swappo/pin-server-go/internal/model"
)

type PinRecordRepository interface {
	FindByTradeID(ctx context.Context, tradeID string) (*model.PinRecord, error)
	// CreateOrReplace atomically writes the trade's PIN record. An existing
	// record keeps its row but gets the new code and window, its generation
	// incremented, and its verified flag reset. A record that is already
	// verified is never replaced; in that case the result is nil, nil.
	CreateOrReplace(ctx context.Context, params model.CreatePinRecordParams) (*model.PinRecord, error)
	// MarkVerified flips verified in a single compare-and-set keyed on
	// generation. It returns false when the record is missing, already
	// verified, expired, or belongs to a newer generation.
	MarkVerified(ctx context.Context, tradeID string, expectedGeneration int, verifiedAt time.Time) (bool, error)
	// DeleteClosed removes PIN records whose owning trade was cancelled or
	// rejected. Records of live or completed trades are never touched.
	DeleteClosed(ctx context.Context) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PinRecordRepository
}

// pinDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type pinDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type pinRecordRepo struct {
	db pinDB
}

func NewPinRecordRepository(db *sqlx.DB) PinRecordRepository {
	return &pinRecordRepo{db: db}
}

func (r *pinRecordRepo) WithTx(tx *sqlx.Tx) PinRecordRepository {
	return &pinRecordRepo{db: tx}
}

func (r *pinRecordRepo) FindByTradeID(ctx context.Context, tradeID string) (*model.PinRecord, error) {
	var record model.PinRecord
	err := r.db.GetContext(ctx, &record, `
		SELECT * FROM pin_records WHERE trade_id = $1
	`, tradeID)
	return HandleNotFound(&record, err)
}

func (r *pinRecordRepo) CreateOrReplace(ctx context.Context, params model.CreatePinRecordParams) (*model.PinRecord, error) {
	// The WHERE on the conflict arm serializes regeneration against a
	// concurrently committed verification: once verified is TRUE the upsert
	// matches no row, RETURNING yields nothing, and the caller sees nil.
	var record model.PinRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO pin_records (trade_id, code, generation, generated_at, expires_at, verified)
		VALUES ($1, $2, 1, $3, $4, FALSE)
		ON CONFLICT (trade_id) DO UPDATE SET
			code = EXCLUDED.code,
			generation = pin_records.generation + 1,
			generated_at = EXCLUDED.generated_at,
			expires_at = EXCLUDED.expires_at,
			verified = FALSE,
			verified_at = NULL
		WHERE pin_records.verified = FALSE
		RETURNING *
	`, params.TradeID, params.Code, params.GeneratedAt, params.ExpiresAt)
	return HandleNotFound(&record, err)
}

func (r *pinRecordRepo) MarkVerified(ctx context.Context, tradeID string, expectedGeneration int, verifiedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pin_records SET
			verified = TRUE,
			verified_at = $3
		WHERE trade_id = $1
		  AND generation = $2
		  AND verified = FALSE
		  AND expires_at > $3
	`, tradeID, expectedGeneration, verifiedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *pinRecordRepo) DeleteClosed(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pin_records
		USING trades
		WHERE pin_records.trade_id = trades.id
		  AND trades.status IN ('CANCELLED', 'REJECTED')
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
