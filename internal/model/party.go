package model

import "time"

// Party is one side of a trade. Authentication is by opaque bearer token;
// only the sha256 hash is stored.
type Party struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	TokenHash string    `db:"token_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
