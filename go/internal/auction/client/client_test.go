package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/gateway"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type itemList []models.Item

func (l itemList) ListItems(context.Context) ([]models.Item, error) { return l, nil }

func startGateway(t *testing.T, items ...models.Item) (*httptest.Server, *bidding.Registry) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	registry := bidding.NewRegistry(clock)
	_, err := registry.LoadAll(context.Background(), itemList(items))
	require.NoError(t, err)

	hub := gateway.NewHub()
	engine := bidding.NewEngine(registry, hub, nil, clock, bidding.Options{})
	svc := gateway.NewService(gateway.DefaultConnectionConfig(), gateway.Deps{
		Hub: hub, Items: registry, Bids: engine, Clock: clock,
	})
	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, registry
}

func liveItem(bid int64) models.Item {
	return models.Item{
		ID:         uuid.New(),
		Title:      "Watch",
		StartTime:  now.Add(-time.Minute),
		EndTime:    now.Add(time.Hour),
		Increment:  10,
		CurrentBid: bid,
	}
}

func connect(t *testing.T, url, bidder string, ids ...uuid.UUID) *Client {
	t.Helper()
	c := New(url, bidder)
	require.NoError(t, c.Connect(context.Background(), ids...))
	t.Cleanup(c.Close)
	return c
}

func TestAliceAndBob(t *testing.T) {
	x := liveItem(100)
	srv, _ := startGateway(t, x)
	alice := connect(t, srv.URL, "alice", x.ID)
	bob := connect(t, srv.URL, "bob", x.ID)
	ctx := context.Background()

	ack, err := alice.PlaceBid(ctx, x.ID)
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	assert.Equal(t, int64(110), ack.CurrentBid)

	v, _ := alice.Reconciler().View(x.ID)
	assert.True(t, v.AmLeading)

	require.Eventually(t, func() bool {
		v, _ := bob.Reconciler().View(x.ID)
		return v.CurrentBid == 110 && v.Leader == "alice"
	}, 2*time.Second, 10*time.Millisecond)
	v, _ = bob.Reconciler().View(x.ID)
	assert.False(t, v.AmLeading)
	assert.Empty(t, v.OutbidBy, "bob never bid")

	ack, err = bob.PlaceBid(ctx, x.ID)
	require.NoError(t, err)
	require.True(t, ack.Accepted)
	assert.Equal(t, int64(120), ack.CurrentBid)

	require.Eventually(t, func() bool {
		v, _ := alice.Reconciler().View(x.ID)
		return v.CurrentBid == 120
	}, 2*time.Second, 10*time.Millisecond)
	v, _ = alice.Reconciler().View(x.ID)
	assert.False(t, v.AmLeading)
	assert.Equal(t, "bob", v.OutbidBy)
}

func TestReconnectResyncsMissedBids(t *testing.T) {
	x := liveItem(100)
	srv, _ := startGateway(t, x)
	ctx := context.Background()

	alice := connect(t, srv.URL, "alice", x.ID)
	ack, err := alice.PlaceBid(ctx, x.ID)
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	alice.Close()
	require.Eventually(t, alice.Reconciler().NeedsResync, 2*time.Second, 10*time.Millisecond)

	// carol bids while alice is away
	carol := New(srv.URL, "carol")
	ack, err = carol.PlaceBidHTTP(ctx, x.ID)
	require.NoError(t, err)
	require.True(t, ack.Accepted)

	require.NoError(t, alice.Reconnect(ctx))
	v, ok := alice.Reconciler().View(x.ID)
	require.True(t, ok)
	assert.Equal(t, int64(120), v.CurrentBid)
	assert.True(t, v.HasEverBid)
	assert.Equal(t, "carol", v.OutbidBy)
}

func TestPlaceBidRejected(t *testing.T) {
	ended := liveItem(50)
	ended.StartTime = now.Add(-2 * time.Hour)
	ended.EndTime = now.Add(-time.Hour)
	srv, _ := startGateway(t, ended)

	c := connect(t, srv.URL, "dave")
	ack, err := c.PlaceBid(context.Background(), ended.ID)
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, bidding.ReasonEnded, ack.Reason)

	ack, err = c.PlaceBidHTTP(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, bidding.ReasonNotFound, ack.Reason)
}

func TestFetchItem(t *testing.T) {
	x := liveItem(100)
	srv, _ := startGateway(t, x)
	c := New(srv.URL, "erin")

	state, err := c.FetchItem(context.Background(), x.ID)
	require.NoError(t, err)
	assert.Equal(t, x.ID, state.ID)
	assert.Equal(t, "1h 0m 0s", state.TimeLeft)

	_, err = c.FetchItem(context.Background(), uuid.New())
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestPlaceBidWithoutConnection(t *testing.T) {
	c := New("http://127.0.0.1:1", "frank")
	_, err := c.PlaceBid(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotConnected)
}
