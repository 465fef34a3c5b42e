// Package client is a Go viewer for the auction gateway. It keeps a
// reconciler in step with the server and places bids over the socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/auction/reconciler"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrDisconnected = errors.New("connection lost before ack")
)

// Client watches a set of items for one bidder.
type Client struct {
	rest   *baseClient
	wsURL  string
	bidder string
	dialer *websocket.Dialer
	recon  *reconciler.Reconciler

	// OnChange, if set, is called from the read loop after an item's view
	// changed.
	OnChange func(itemID uuid.UUID)

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	items   []uuid.UUID
	pending map[string]chan events.AckPayload
}

// New creates a client for the gateway at baseURL (http or https).
func New(baseURL, bidder string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http")
	return &Client{
		rest:    newBaseClient(baseURL),
		wsURL:   wsURL,
		bidder:  bidder,
		dialer:  websocket.DefaultDialer,
		recon:   reconciler.New(bidder),
		pending: make(map[string]chan events.AckPayload),
	}
}

func (c *Client) Reconciler() *reconciler.Reconciler { return c.recon }

// FetchItems returns authoritative snapshots of every item.
func (c *Client) FetchItems(ctx context.Context) ([]models.Item, error) {
	body, err := c.rest.get(ctx, "/api/items")
	if err != nil {
		return nil, fmt.Errorf("fetch items: %w", err)
	}
	var states []events.ItemState
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	items := make([]models.Item, 0, len(states))
	for _, s := range states {
		items = append(items, s.Item)
	}
	return items, nil
}

// FetchItem returns the authoritative snapshot of one item.
func (c *Client) FetchItem(ctx context.Context, itemID uuid.UUID) (events.ItemState, error) {
	body, err := c.rest.get(ctx, "/api/items/"+itemID.String()+"/state")
	if err != nil {
		return events.ItemState{}, fmt.Errorf("fetch item: %w", err)
	}
	var state events.ItemState
	if err := json.Unmarshal(body, &state); err != nil {
		return events.ItemState{}, fmt.Errorf("decode item: %w", err)
	}
	return state, nil
}

// Connect resyncs from the REST snapshot and subscribes to itemIDs. With no
// ids it watches every item the server lists.
func (c *Client) Connect(ctx context.Context, itemIDs ...uuid.UUID) error {
	items, err := c.FetchItems(ctx)
	if err != nil {
		return err
	}
	if len(itemIDs) == 0 {
		for _, item := range items {
			itemIDs = append(itemIDs, item.ID)
		}
	}
	c.recon.Resync(filter(items, itemIDs))

	q := url.Values{}
	q.Set("bidder", c.bidder)
	for _, id := range itemIDs {
		q.Add("item_id", id.String())
	}
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL+"/ws/auction?"+q.Encode(), nil)
	if err != nil {
		c.recon.MarkDisconnected()
		return fmt.Errorf("dial gateway: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.items = itemIDs
	c.mu.Unlock()

	go c.readLoop(conn, done)

	log.Info().
		Str("bidder", c.bidder).
		Int("items", len(itemIDs)).
		Msg("connected to auction gateway")
	return nil
}

// Reconnect drops the current connection, discards local state and
// connects again to the same items.
func (c *Client) Reconnect(ctx context.Context) error {
	c.recon.MarkDisconnected()
	c.mu.Lock()
	items, done := c.items, c.done
	c.mu.Unlock()
	c.Close()
	if done != nil {
		<-done
	}
	return c.Connect(ctx, items...)
}

// PlaceBid sends a bid and waits for its ack.
func (c *Client) PlaceBid(ctx context.Context, itemID uuid.UUID) (events.AckPayload, error) {
	requestID := uuid.NewString()
	ch := make(chan events.AckPayload, 1)

	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return events.AckPayload{}, ErrNotConnected
	}
	c.pending[requestID] = ch
	err := conn.WriteJSON(events.ClientMessage{
		Type:      events.TypeBid,
		RequestID: requestID,
		ItemID:    itemID,
		Bidder:    c.bidder,
	})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	if err != nil {
		return events.AckPayload{}, fmt.Errorf("send bid: %w", err)
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-done:
		return events.AckPayload{}, ErrDisconnected
	case <-ctx.Done():
		return events.AckPayload{}, ctx.Err()
	}
}

// PlaceBidHTTP places a bid through the REST endpoint instead of the socket.
// The reconciler still learns the outcome.
func (c *Client) PlaceBidHTTP(ctx context.Context, itemID uuid.UUID) (events.AckPayload, error) {
	body, err := json.Marshal(map[string]string{"request_id": uuid.NewString(), "bidder": c.bidder})
	if err != nil {
		return events.AckPayload{}, err
	}
	resp, err := c.rest.post(ctx, "/api/items/"+itemID.String()+"/bids", bytes.NewReader(body))

	var ack events.AckPayload
	var statusErr *StatusError
	if err != nil && !errors.As(err, &statusErr) {
		return ack, err
	}
	if jsonErr := json.Unmarshal(resp, &ack); jsonErr != nil {
		if err != nil {
			return ack, err
		}
		return ack, fmt.Errorf("decode ack: %w", jsonErr)
	}
	if applyErr := c.recon.ApplyAck(itemID, ack); applyErr != nil && !errors.Is(applyErr, reconciler.ErrUnknownItem) {
		return ack, applyErr
	}
	return ack, nil
}

// Close closes the socket. The reconciler keeps its last state.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.recon.MarkDisconnected()
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("bidder", c.bidder).Msg("gateway connection lost")
			}
			return
		}
		if err := c.handle(raw); err != nil {
			log.Warn().Err(err).Str("bidder", c.bidder).Msg("failed to apply server message")
		}
	}
}

func (c *Client) handle(raw []byte) error {
	env, err := events.Decode(raw, nil)
	if err != nil {
		return err
	}
	itemID, _ := uuid.Parse(env.ItemID)

	switch env.Type {
	case events.TypeSnapshot:
		var state events.ItemState
		if _, err := events.Decode(raw, &state); err != nil {
			return err
		}
		err = c.recon.ApplySnapshot(state.Item)
	case events.TypeBidUpdated:
		var u models.StateUpdate
		if _, err := events.Decode(raw, &u); err != nil {
			return err
		}
		err = c.recon.ApplyUpdate(u)
	case events.TypeAck:
		var ack events.AckPayload
		if _, err := events.Decode(raw, &ack); err != nil {
			return err
		}
		err = c.recon.ApplyAck(itemID, ack)
		c.resolve(ack.RequestID, ack)
	case events.TypeItemRemoved:
		c.recon.Forget(itemID)
	case events.TypeError:
		var p events.ErrorPayload
		if _, err := events.Decode(raw, &p); err != nil {
			return err
		}
		c.resolve(p.RequestID, events.AckPayload{RequestID: p.RequestID, Reason: p.Message})
		return fmt.Errorf("server error: %s", p.Message)
	default:
		return fmt.Errorf("unknown message type %q", env.Type)
	}

	if err == nil && c.OnChange != nil && itemID != uuid.Nil {
		c.OnChange(itemID)
	}
	return err
}

func (c *Client) resolve(requestID string, ack events.AckPayload) {
	if requestID == "" {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- ack:
		default:
		}
	}
}

func filter(items []models.Item, ids []uuid.UUID) []models.Item {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]models.Item, 0, len(ids))
	for _, item := range items {
		if want[item.ID] {
			out = append(out, item)
		}
	}
	return out
}
