package gateway

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(t *testing.T, h *Hub, buffer int) *Connection {
	t.Helper()
	cfg := DefaultConnectionConfig()
	cfg.SendBuffer = buffer
	c := newConnection(nil, "viewer", cfg)
	h.register(c)
	return c
}

func decodeUpdate(t *testing.T, raw []byte) (events.Envelope, models.StateUpdate) {
	t.Helper()
	var u models.StateUpdate
	env, err := events.Decode(raw, &u)
	require.NoError(t, err)
	return env, u
}

func TestHubPublishPreservesOrder(t *testing.T) {
	h := NewHub()
	itemID := uuid.New()
	a := testConn(t, h, 16)
	b := testConn(t, h, 16)
	require.True(t, h.Subscribe(itemID, a))
	require.True(t, h.Subscribe(itemID, b))

	at := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	for v := int64(1); v <= 5; v++ {
		h.Publish(models.StateUpdate{ItemID: itemID, CurrentBid: 100 + v*10, Leader: "x", Version: v, At: at})
	}

	for _, c := range []*Connection{a, b} {
		for v := int64(1); v <= 5; v++ {
			env, u := decodeUpdate(t, <-c.send)
			assert.Equal(t, events.TypeBidUpdated, env.Type)
			assert.Equal(t, v, u.Version)
		}
	}
	assert.Equal(t, 2, h.Subscribers(itemID))
}

func TestHubOnlyDeliversToSubscribers(t *testing.T) {
	h := NewHub()
	watched, other := uuid.New(), uuid.New()
	a := testConn(t, h, 4)
	b := testConn(t, h, 4)
	h.Subscribe(watched, a)
	h.Subscribe(other, b)

	h.Publish(models.StateUpdate{ItemID: watched, CurrentBid: 110, Version: 1})

	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 0)
}

func TestHubEvictsSlowConnection(t *testing.T) {
	h := NewHub()
	itemID := uuid.New()
	slow := testConn(t, h, 1)
	fast := testConn(t, h, 8)
	h.Subscribe(itemID, slow)
	h.Subscribe(itemID, fast)

	h.Publish(models.StateUpdate{ItemID: itemID, CurrentBid: 110, Version: 1})
	h.Publish(models.StateUpdate{ItemID: itemID, CurrentBid: 120, Version: 2})
	h.Publish(models.StateUpdate{ItemID: itemID, CurrentBid: 130, Version: 3})

	// the slow queue keeps what it had, then is closed
	_, u := decodeUpdate(t, <-slow.send)
	assert.Equal(t, int64(1), u.Version)
	_, open := <-slow.send
	assert.False(t, open)

	assert.Len(t, fast.send, 3)
	assert.Equal(t, 1, h.Subscribers(itemID))

	stats := h.Stats()
	assert.Equal(t, uint64(1), stats["connections_evicted"])
	assert.Equal(t, 1, stats["total_connections"])
}

func TestHubUnsubscribeAndRemove(t *testing.T) {
	h := NewHub()
	itemID := uuid.New()
	c := testConn(t, h, 4)
	h.Subscribe(itemID, c)

	h.Unsubscribe(itemID, c)
	assert.Equal(t, 0, h.Subscribers(itemID))
	h.Publish(models.StateUpdate{ItemID: itemID, Version: 1})
	assert.Len(t, c.send, 0)

	assert.True(t, h.remove(c))
	assert.False(t, h.remove(c))
	assert.False(t, h.Subscribe(itemID, c))
}

func TestHubCloseItem(t *testing.T) {
	h := NewHub()
	itemID := uuid.New()
	c := testConn(t, h, 4)
	h.Subscribe(itemID, c)

	h.CloseItem(itemID)

	var payload events.ItemRemovedPayload
	env, err := events.Decode(<-c.send, &payload)
	require.NoError(t, err)
	assert.Equal(t, events.TypeItemRemoved, env.Type)
	assert.Equal(t, itemID, payload.ItemID)
	assert.Equal(t, 0, h.Subscribers(itemID))
	assert.Empty(t, c.subs)
}
