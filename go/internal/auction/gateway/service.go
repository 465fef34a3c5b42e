package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ReasonReadOnly rejects bids sent to a gateway without an engine.
const ReasonReadOnly = "read_only"

// BidPlacer arbitrates bid requests.
type BidPlacer interface {
	PlaceBid(ctx context.Context, req models.BidRequest) (bidding.Outcome, error)
}

// ItemReader serves authoritative snapshots. Get returns bidding.ErrNotFound
// for unknown items.
type ItemReader interface {
	Get(id uuid.UUID) (models.Item, error)
	List() []models.Item
}

// ItemRemover deletes an item and tears down everything attached to it.
type ItemRemover interface {
	RemoveItem(ctx context.Context, id uuid.UUID) error
}

// Deps are the collaborators of the gateway. Bids and Remover may be nil
// on read-only replicas.
type Deps struct {
	Hub     *Hub
	Items   ItemReader
	Bids    BidPlacer
	Remover ItemRemover
	Clock   clockwork.Clock
}

// Service serves the realtime socket and the REST snapshot API.
type Service struct {
	hub      *Hub
	items    ItemReader
	bids     BidPlacer
	remover  ItemRemover
	clock    clockwork.Clock
	upgrader websocket.Upgrader
	config   ConnectionConfig
}

func NewService(cfg ConnectionConfig, deps Deps) *Service {
	hub := deps.Hub
	if hub == nil {
		hub = NewHub()
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		hub:     hub,
		items:   deps.Items,
		bids:    deps.Bids,
		remover: deps.Remover,
		clock:   clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		config: cfg,
	}
}

func (s *Service) Hub() *Hub { return s.hub }

// RegisterRoutes registers the WebSocket and REST routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/auction", s.HandleAuctionConnection)
	mux.HandleFunc("GET /ws/stats", s.HandleConnectionStats)
	mux.HandleFunc("GET /api/items", s.HandleListItems)
	mux.HandleFunc("GET /api/items/{id}/state", s.HandleGetItemState)
	mux.HandleFunc("POST /api/items/{id}/bids", s.HandlePlaceBid)
	mux.HandleFunc("DELETE /api/items/{id}", s.HandleDeleteItem)
	log.Info().Msg("auction gateway routes registered")
}

// HandleAuctionConnection upgrades to a WebSocket. Items listed in repeated
// item_id query parameters are subscribed immediately.
func (s *Service) HandleAuctionConnection(w http.ResponseWriter, r *http.Request) {
	var itemIDs []uuid.UUID
	for _, raw := range r.URL.Query()["item_id"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid item_id format", http.StatusBadRequest)
			return
		}
		itemIDs = append(itemIDs, id)
	}

	// Bidder identity is a display name, not an authenticated principal
	bidder := r.URL.Query().Get("bidder")
	if bidder == "" {
		bidder = "anonymous"
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := newConnection(ws, bidder, s.config)
	conn.service = s
	s.hub.register(conn)

	// The writer must be draining before the initial snapshots are queued;
	// a viewer may watch more items than its send buffer holds.
	go conn.writePump()

	for _, id := range itemIDs {
		if !s.waitForRoom(conn) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("bidder", bidder).
				Msg("viewer not reading initial snapshots, closing connection")
			s.hub.evict(conn)
			return
		}
		s.subscribe(conn, id, "")
	}

	go conn.readPump(context.Background())

	log.Info().
		Str("connection_id", conn.ID).
		Str("bidder", bidder).
		Int("items", len(itemIDs)).
		Msg("WebSocket connection established")
}

func (s *Service) handleClientMessage(ctx context.Context, c *Connection, raw []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(c, "", uuid.Nil, "malformed message")
		return
	}

	switch msg.Type {
	case events.TypeSubscribe:
		s.subscribe(c, msg.ItemID, msg.RequestID)
	case events.TypeUnsubscribe:
		s.hub.Unsubscribe(msg.ItemID, c)
	case events.TypeBid:
		bidder := msg.Bidder
		if bidder == "" {
			bidder = c.Bidder
		}
		ack := s.placeBid(ctx, models.BidRequest{
			RequestID:      msg.RequestID,
			ItemID:         msg.ItemID,
			Bidder:         bidder,
			ProposedAmount: msg.Amount,
		})
		s.send(c, events.TypeAck, msg.ItemID, ack)
	default:
		s.sendError(c, msg.RequestID, msg.ItemID, "unknown message type")
	}
}

// subscribe registers c for the item and then sends the current snapshot,
// so nothing published after the snapshot is missed.
func (s *Service) subscribe(c *Connection, itemID uuid.UUID, requestID string) {
	if _, err := s.items.Get(itemID); err != nil {
		s.sendError(c, requestID, itemID, "item not found")
		return
	}
	if !s.hub.Subscribe(itemID, c) {
		return
	}
	item, err := s.items.Get(itemID)
	if err != nil {
		s.hub.Unsubscribe(itemID, c)
		s.sendError(c, requestID, itemID, "item not found")
		return
	}
	s.send(c, events.TypeSnapshot, itemID, events.NewItemState(item, s.clock.Now()))
}

// waitForRoom blocks until c's send queue is at most half full. It reports
// false if the connection is gone or does not drain within WriteTimeout.
func (s *Service) waitForRoom(c *Connection) bool {
	timer := time.NewTimer(s.config.WriteTimeout)
	defer timer.Stop()

	for s.hub.connected(c) && len(c.send) > cap(c.send)/2 {
		select {
		case <-c.drained:
		case <-timer.C:
			return false
		}
	}
	return s.hub.connected(c)
}

func (s *Service) placeBid(ctx context.Context, req models.BidRequest) events.AckPayload {
	if s.bids == nil {
		return events.AckPayload{RequestID: req.RequestID, Reason: ReasonReadOnly}
	}
	out, err := s.bids.PlaceBid(ctx, req)
	ack := events.AckPayload{
		RequestID:  req.RequestID,
		Accepted:   out.Accepted,
		CurrentBid: out.CurrentBid,
		Leader:     out.Leader,
		Version:    out.Version,
		Reason:     out.Reason,
	}
	if err != nil && ack.Reason == "" {
		ack.Reason = bidding.Reason(err)
	}
	return ack
}

func (s *Service) send(c *Connection, t events.Type, itemID uuid.UUID, payload any) {
	now := s.clock.Now()
	data, err := events.Encode(uuid.NewString(), t, itemID, payload, now)
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("failed to encode message")
		return
	}
	s.hub.sendTo(c, data)
}

func (s *Service) sendError(c *Connection, requestID string, itemID uuid.UUID, message string) {
	s.send(c, events.TypeError, itemID, events.ErrorPayload{RequestID: requestID, Message: message})
}
