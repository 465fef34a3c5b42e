package relay

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHub struct {
	published []models.StateUpdate
	closed    []uuid.UUID
}

func (h *fakeHub) Publish(u models.StateUpdate) { h.published = append(h.published, u) }
func (h *fakeHub) CloseItem(itemID uuid.UUID) { h.closed = append(h.closed, itemID) }

var start = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func newReplica(items ...models.Item) (*EventConsumer, *Mirror, *fakeHub) {
	hub := &fakeHub{}
	mirror := NewMirror(hub)
	mirror.Load(items)
	return &EventConsumer{mirror: mirror, hub: hub}, mirror, hub
}

func encodeUpdate(t *testing.T, u models.StateUpdate) []byte {
	t.Helper()
	data, err := events.Encode(events.UpdateID(u), events.TypeBidUpdated, u.ItemID, u, u.At)
	require.NoError(t, err)
	return data
}

func TestConsumerAppliesUpdatesOnce(t *testing.T) {
	item := models.Item{ID: uuid.New(), StartTime: start, EndTime: start.Add(time.Hour), CurrentBid: 100}
	ec, mirror, hub := newReplica(item)

	u := models.StateUpdate{ItemID: item.ID, CurrentBid: 110, Leader: "alice", Version: 1, At: start}
	require.NoError(t, ec.Handle(encodeUpdate(t, u)))
	// redelivery
	require.NoError(t, ec.Handle(encodeUpdate(t, u)))

	require.Len(t, hub.published, 1)
	got, err := mirror.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.CurrentBid)
	assert.Equal(t, "alice", got.LeaderName())
	assert.Equal(t, int64(1), got.Version)
}

func TestConsumerSkipsStaleAndUnknown(t *testing.T) {
	item := models.Item{ID: uuid.New(), StartTime: start, CurrentBid: 200}
	ec, _, hub := newReplica(item)

	require.NoError(t, ec.Handle(encodeUpdate(t, models.StateUpdate{ItemID: item.ID, CurrentBid: 150, Version: 9})))
	require.NoError(t, ec.Handle(encodeUpdate(t, models.StateUpdate{ItemID: uuid.New(), CurrentBid: 500, Version: 1})))
	assert.Empty(t, hub.published)
}

func TestConsumerItemRemoved(t *testing.T) {
	item := models.Item{ID: uuid.New(), StartTime: start}
	ec, mirror, hub := newReplica(item)

	data, err := events.Encode(uuid.NewString(), events.TypeItemRemoved, item.ID,
		events.ItemRemovedPayload{ItemID: item.ID}, start)
	require.NoError(t, err)
	require.NoError(t, ec.Handle(data))

	_, err = mirror.Get(item.ID)
	assert.ErrorIs(t, err, bidding.ErrNotFound)
	assert.Equal(t, []uuid.UUID{item.ID}, hub.closed)

	// removing twice does not close twice
	require.NoError(t, ec.Handle(data))
	assert.Len(t, hub.closed, 1)
}

func TestConsumerRejectsUnknownType(t *testing.T) {
	ec, _, _ := newReplica()
	data, err := events.Encode("x", events.TypeAck, uuid.Nil, nil, start)
	require.NoError(t, err)
	assert.Error(t, ec.Handle(data))
	assert.Error(t, ec.Handle([]byte("not json")))
}

func TestMirrorItemCreatedKeepsHigherBid(t *testing.T) {
	item := models.Item{ID: uuid.New(), StartTime: start, CurrentBid: 100}
	_, mirror, _ := newReplica(item)

	require.True(t, mirror.Apply(models.StateUpdate{ItemID: item.ID, CurrentBid: 130, Leader: "bob", Version: 3}))
	mirror.ItemCreated(item)

	got, err := mirror.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(130), got.CurrentBid)

	other := models.Item{ID: uuid.New(), StartTime: start.Add(-time.Hour)}
	mirror.ItemCreated(other)
	list := mirror.List()
	require.Len(t, list, 2)
	assert.Equal(t, other.ID, list[0].ID)
	assert.ElementsMatch(t, []uuid.UUID{item.ID, other.ID}, mirror.KnownItems())
}

func TestSubject(t *testing.T) {
	id := uuid.MustParse("6f1c1c9a-8a55-4d8e-9f55-0b7a3e9c2d11")
	assert.Equal(t, "auction.bids.6f1c1c9a-8a55-4d8e-9f55-0b7a3e9c2d11", DefaultJetStreamConfig().Subject(id))
}
