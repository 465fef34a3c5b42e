package bidding

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Publisher receives every accepted state transition. Implementations must
// not block: Publish is called while the item's serializer is held.
type Publisher interface {
	Publish(update models.StateUpdate)
}

// Persister receives every accepted bid for durable storage. Enqueue must
// not block and must not fail the bid.
type Persister interface {
	Enqueue(itemID uuid.UUID, currentBid int64, leader string)
}

// Publishers fans one update out to several sinks in order.
type Publishers []Publisher

func (p Publishers) Publish(update models.StateUpdate) {
	for _, pub := range p {
		pub.Publish(update)
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.StateUpdate) {}

type noopPersister struct{}

func (noopPersister) Enqueue(uuid.UUID, int64, string) {}

// Options tunes arbitration policy.
type Options struct {
	// RejectSelfOutbid refuses a bid from the current leader. Off by default:
	// a leader may raise their own bid.
	RejectSelfOutbid bool
}

// Outcome is the ack returned to the requester.
type Outcome struct {
	RequestID  string    `json:"request_id,omitempty"`
	ItemID     uuid.UUID `json:"item_id"`
	Accepted   bool      `json:"accepted"`
	CurrentBid int64     `json:"current_bid,omitempty"`
	Leader     string    `json:"leader,omitempty"`
	Version    int64     `json:"version,omitempty"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason,omitempty"`
}

// Engine arbitrates bids. Requests for the same item are applied one at a
// time in the order they obtain the item's serializer; different items
// never contend.
type Engine struct {
	registry  *Registry
	locks     *lockTable
	clock     clockwork.Clock
	publisher Publisher
	persister Persister
	opts      Options
}

// NewEngine wires an engine. Nil publisher or persister are replaced by no-ops.
func NewEngine(registry *Registry, publisher Publisher, persister Persister, clock clockwork.Clock, opts Options) *Engine {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if persister == nil {
		persister = noopPersister{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		registry:  registry,
		locks:     newLockTable(),
		clock:     clock,
		publisher: publisher,
		persister: persister,
		opts:      opts,
	}
}

// PlaceBid arbitrates one request. The proposed amount is ignored: an
// accepted bid always moves the price to current + increment.
func (e *Engine) PlaceBid(ctx context.Context, req models.BidRequest) (Outcome, error) {
	out := Outcome{RequestID: req.RequestID, ItemID: req.ItemID}

	bidder := strings.TrimSpace(req.Bidder)
	if bidder == "" {
		return e.reject(out, ErrInvalidBidder)
	}
	if err := ctx.Err(); err != nil {
		return e.reject(out, err)
	}

	release := e.locks.acquire(req.ItemID)
	defer release()

	item, frozen, err := e.registry.snapshot(req.ItemID)
	if err != nil {
		return e.reject(out, err)
	}

	now := e.clock.Now()
	status := lifecycle.Evaluate(now, item.StartTime, item.EndTime)
	if frozen {
		status = lifecycle.StatusEnded
	}
	if status != lifecycle.StatusLive {
		if status == lifecycle.StatusEnded {
			e.registry.freeze(req.ItemID)
		}
		return e.reject(out, &NotLiveError{ItemID: req.ItemID, Status: status})
	}

	if e.opts.RejectSelfOutbid && item.LeaderName() == bidder {
		return e.reject(out, ErrSelfOutbid)
	}

	newBid := item.CurrentBid + item.Increment
	updated, err := e.registry.applyAccepted(req.ItemID, newBid, bidder, now)
	if err != nil {
		return e.reject(out, err)
	}

	update := models.StateUpdate{
		ItemID:     updated.ID,
		CurrentBid: updated.CurrentBid,
		Leader:     bidder,
		Version:    updated.Version,
		At:         now,
	}
	e.publisher.Publish(update)
	e.persister.Enqueue(updated.ID, updated.CurrentBid, bidder)

	log.Debug().
		Str("item_id", updated.ID.String()).
		Str("bidder", bidder).
		Int64("current_bid", updated.CurrentBid).
		Int64("version", updated.Version).
		Msg("bid accepted")

	out.Accepted = true
	out.CurrentBid = updated.CurrentBid
	out.Leader = bidder
	out.Version = updated.Version
	out.At = now
	return out, nil
}

func (e *Engine) reject(out Outcome, err error) (Outcome, error) {
	out.Reason = Reason(err)
	log.Debug().
		Err(err).
		Str("item_id", out.ItemID.String()).
		Str("request_id", out.RequestID).
		Str("reason", out.Reason).
		Msg("bid rejected")
	return out, err
}
