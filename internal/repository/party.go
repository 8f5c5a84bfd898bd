package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/swappo/pin-server-go/internal/model"
)

type PartyRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Party, error)
}

type partyRepo struct {
	db *sqlx.DB
}

func NewPartyRepository(db *sqlx.DB) PartyRepository {
	return &partyRepo{db: db}
}

func (r *partyRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Party, error) {
	var party model.Party
	err := r.db.GetContext(ctx, &party, `
		SELECT * FROM parties WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&party, err)
}
