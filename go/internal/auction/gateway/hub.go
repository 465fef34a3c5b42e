package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Hub fans state updates out to the connections subscribed to each item.
// Sends never block: a connection whose queue is full is dropped and has
// to reconnect and resync.
type Hub struct {
	// Subscriber sets organized by item ID
	items map[uuid.UUID]map[*Connection]struct{}
	conns map[*Connection]struct{}
	mu    sync.RWMutex

	published atomic.Uint64
	evicted   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		items: make(map[uuid.UUID]map[*Connection]struct{}),
		conns: make(map[*Connection]struct{}),
	}
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// Subscribe adds c to the item's subscribers. It returns false if c has
// already been closed.
func (h *Hub) Subscribe(itemID uuid.UUID, c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	subs := h.items[itemID]
	if subs == nil {
		subs = make(map[*Connection]struct{})
		h.items[itemID] = subs
	}
	subs[c] = struct{}{}
	c.subs[itemID] = struct{}{}

	log.Debug().
		Str("connection_id", c.ID).
		Str("item_id", itemID.String()).
		Int("subscribers", len(subs)).
		Msg("subscribed")
	return true
}

func (h *Hub) Unsubscribe(itemID uuid.UUID, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(itemID, c)
}

func (h *Hub) unsubscribeLocked(itemID uuid.UUID, c *Connection) {
	if subs, ok := h.items[itemID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.items, itemID)
		}
	}
	delete(c.subs, itemID)
}

// remove drops c from every item and closes its send queue. Safe to call
// more than once.
func (h *Hub) remove(c *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; !ok {
		return false
	}
	for itemID := range c.subs {
		h.unsubscribeLocked(itemID, c)
	}
	delete(h.conns, c)
	close(c.send)
	return true
}

// Publish delivers an accepted transition to every subscriber of the item.
func (h *Hub) Publish(u models.StateUpdate) {
	data, err := events.Encode(events.UpdateID(u), events.TypeBidUpdated, u.ItemID, u, u.At)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal bid update for broadcast")
		return
	}
	h.published.Add(1)
	delivered := h.broadcast(u.ItemID, data)

	log.Debug().
		Str("item_id", u.ItemID.String()).
		Int64("current_bid", u.CurrentBid).
		Int("connections", delivered).
		Msg("bid update broadcasted")
}

// CloseItem tells subscribers the item is gone and drops the subscriptions.
func (h *Hub) CloseItem(itemID uuid.UUID) {
	data, err := events.Encode(uuid.NewString(), events.TypeItemRemoved, itemID,
		events.ItemRemovedPayload{ItemID: itemID}, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal item removal")
		return
	}
	h.broadcast(itemID, data)

	h.mu.Lock()
	for c := range h.items[itemID] {
		delete(c.subs, itemID)
	}
	delete(h.items, itemID)
	h.mu.Unlock()

	log.Info().Str("item_id", itemID.String()).Msg("item subscriptions closed")
}

func (h *Hub) broadcast(itemID uuid.UUID, data []byte) int {
	var slow []*Connection

	// Sends happen under the read lock so remove() cannot close a queue
	// mid-send.
	h.mu.RLock()
	subs := h.items[itemID]
	delivered := 0
	for c := range subs {
		select {
		case c.send <- data:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.evict(c)
	}
	return delivered
}

// sendTo queues a message for one connection, evicting it when full.
func (h *Hub) sendTo(c *Connection, data []byte) bool {
	h.mu.RLock()
	_, ok := h.conns[c]
	sent := false
	if ok {
		select {
		case c.send <- data:
			sent = true
		default:
		}
	}
	h.mu.RUnlock()

	if ok && !sent {
		h.evict(c)
	}
	return sent
}

func (h *Hub) evict(c *Connection) {
	if !h.remove(c) {
		return
	}
	h.evicted.Add(1)
	log.Warn().
		Str("connection_id", c.ID).
		Str("bidder", c.Bidder).
		Msg("connection send buffer full, closing connection")
	c.closeTransport()
}

func (h *Hub) connected(c *Connection) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[c]
	return ok
}

// Subscribers is the number of connections watching the item.
func (h *Hub) Subscribers(itemID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items[itemID])
}

// Stats returns statistics about active connections
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	itemCounts := make(map[string]int, len(h.items))
	for itemID, subs := range h.items {
		itemCounts[itemID.String()] = len(subs)
	}

	return map[string]interface{}{
		"total_connections":   len(h.conns),
		"watched_items":       len(h.items),
		"item_subscribers":    itemCounts,
		"updates_published":   h.published.Load(),
		"connections_evicted": h.evicted.Load(),
	}
}
