package model

import "time"

type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusAccepted  TradeStatus = "ACCEPTED"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusCancelled TradeStatus = "CANCELLED"
	TradeStatusRejected  TradeStatus = "REJECTED"
)

// PinRole identifies which side of a trade a caller is on. The owner holds
// the requested item and generates the PIN; the requester submits it.
type PinRole string

const (
	RoleOwner     PinRole = "owner"
	RoleRequester PinRole = "requester"
)

type Trade struct {
	ID              string      `db:"id" json:"id"`
	RequesterID     string      `db:"requester_id" json:"requesterId"`
	OwnerID         string      `db:"owner_id" json:"ownerId"`
	RequestedItemID string      `db:"requested_item_id" json:"requestedItemId"`
	OfferedItemID   string      `db:"offered_item_id" json:"offeredItemId"`
	Status          TradeStatus `db:"status" json:"status"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updatedAt"`
}

// RoleOf returns the caller's role in this trade, or false if the caller
// is not a participant.
func (t *Trade) RoleOf(partyID string) (PinRole, bool) {
	switch partyID {
	case t.OwnerID:
		return RoleOwner, true
	case t.RequesterID:
		return RoleRequester, true
	default:
		return "", false
	}
}
