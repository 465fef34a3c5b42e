package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultIncrement is the fixed amount added to the current bid on every accepted bid.
const DefaultIncrement int64 = 10

// Item is a single auctioned lot.
type Item struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	Description     *string   `json:"description,omitempty"`
	ImageLink       string    `json:"image_link,omitempty"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Increment       int64     `json:"increment"`
	CurrentBid      int64     `json:"current_bid"`
	Leader          *string   `json:"leader,omitempty"`
	Version         int64     `json:"version"`
	LastBidAt       time.Time `json:"last_bid_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// LeaderName returns the leader or "" when nobody has bid yet.
func (i Item) LeaderName() string {
	if i.Leader == nil {
		return ""
	}
	return *i.Leader
}

// Normalize fills derived fields that older rows may leave empty.
func (i *Item) Normalize() {
	if i.Increment <= 0 {
		i.Increment = DefaultIncrement
	}
	if i.EndTime.IsZero() && i.DurationMinutes > 0 {
		i.EndTime = i.StartTime.Add(time.Duration(i.DurationMinutes) * time.Minute)
	}
	if i.DurationMinutes == 0 && !i.EndTime.IsZero() && i.EndTime.After(i.StartTime) {
		i.DurationMinutes = int(i.EndTime.Sub(i.StartTime) / time.Minute)
	}
	if i.CurrentBid < 0 {
		i.CurrentBid = 0
	}
}
