package models

import (
	"time"

	"github.com/google/uuid"
)

// BidRequest is a bidder's intent to raise an item's price by one increment.
// ProposedAmount is advisory; the server always computes the new price itself.
type BidRequest struct {
	RequestID      string    `json:"request_id"`
	ItemID         uuid.UUID `json:"item_id"`
	Bidder         string    `json:"bidder"`
	ProposedAmount *int64    `json:"amount,omitempty"`
}

// StateUpdate is the authoritative state of an item after an accepted bid.
type StateUpdate struct {
	ItemID     uuid.UUID `json:"item_id"`
	CurrentBid int64     `json:"current_bid"`
	Leader     string    `json:"leader"`
	Version    int64     `json:"version"`
	At         time.Time `json:"at"`
}
