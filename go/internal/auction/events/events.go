package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
	"github.com/mcdev12/livebid/go/internal/models"
)

// Type names a message on the realtime channel.
type Type string

const (
	// client -> server
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypeBid         Type = "bid"

	// server -> client
	TypeAck         Type = "ack"
	TypeBidUpdated  Type = "bid_updated"
	TypeSnapshot    Type = "snapshot"
	TypeItemRemoved Type = "item_removed"
	TypeError       Type = "error"
)

// Envelope wraps every server message.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	ItemID    string          `json:"item_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is anything a client sends over the socket.
type ClientMessage struct {
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	ItemID    uuid.UUID `json:"item_id"`
	Bidder    string    `json:"bidder,omitempty"`
	Amount    *int64    `json:"amount,omitempty"`
}

// AckPayload answers a single bid request.
type AckPayload struct {
	RequestID  string `json:"request_id,omitempty"`
	Accepted   bool   `json:"accepted"`
	CurrentBid int64  `json:"current_bid,omitempty"`
	Leader     string `json:"leader,omitempty"`
	Version    int64  `json:"version,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type ItemRemovedPayload struct {
	ItemID uuid.UUID `json:"item_id"`
}

type ErrorPayload struct {
	RequestID string `json:"request_id,omitempty"`
	Message   string `json:"message"`
}

// ItemState is an item snapshot with its derived status, as served to
// clients on load, on subscribe and on resync.
type ItemState struct {
	models.Item
	Status     lifecycle.Status `json:"status"`
	TimeLeft   string           `json:"time_left"`
	ServerTime time.Time        `json:"server_time"`
}

func NewItemState(item models.Item, now time.Time) ItemState {
	return ItemState{
		Item:       item,
		Status:     lifecycle.Evaluate(now, item.StartTime, item.EndTime),
		TimeLeft:   lifecycle.FormatTimeLeft(lifecycle.TimeLeft(now, item.EndTime)),
		ServerTime: now,
	}
}

// UpdateID is the stable id of a bid_updated event, so duplicate deliveries
// of the same transition share one id.
func UpdateID(u models.StateUpdate) string {
	return fmt.Sprintf("%s:%d", u.ItemID, u.Version)
}

// Encode builds and marshals an envelope.
func Encode(id string, t Type, itemID uuid.UUID, payload any, at time.Time) ([]byte, error) {
	env := Envelope{
		ID:        id,
		Type:      t,
		Timestamp: at,
	}
	if itemID != uuid.Nil {
		env.ItemID = itemID.String()
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Decode parses an envelope and its payload into out. out may be nil.
func Decode(raw []byte, out any) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
		}
	}
	return env, nil
}
