package model

import "time"

// PinRecord is the stored completion handshake for one trade. There is at
// most one row per trade: regeneration replaces the code in place and bumps
// Generation so stale submissions can be told apart from live ones.
type PinRecord struct {
	TradeID     string     `db:"trade_id" json:"tradeId"`
	Code        string     `db:"code" json:"code"`
	Generation  int        `db:"generation" json:"generation"`
	GeneratedAt time.Time  `db:"generated_at" json:"generatedAt"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expiresAt"`
	Verified    bool       `db:"verified" json:"verified"`
	VerifiedAt  *time.Time `db:"verified_at" json:"verifiedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

func (p *PinRecord) IsExpired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

type CreatePinRecordParams struct {
	TradeID     string
	Code        string
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// PinStatusView is the role-scoped projection of a trade's PIN state.
// Code is populated for the owner only; the server never sends it to the
// requester regardless of what the client asks for.
type PinStatusView struct {
	Exists      bool        `json:"exists"`
	Role        PinRole     `json:"role"`
	TradeStatus TradeStatus `json:"tradeStatus"`
	Code        string      `json:"code,omitempty"`
	IsVerified  bool        `json:"isVerified"`
	IsExpired   bool        `json:"isExpired"`
	Generation  int         `json:"generation,omitempty"`
	GeneratedAt *time.Time  `json:"generatedAt,omitempty"`
	ExpiresAt   *time.Time  `json:"expiresAt,omitempty"`
	VerifiedAt  *time.Time  `json:"verifiedAt,omitempty"`
}
