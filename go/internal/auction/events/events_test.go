package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBidUpdated(t *testing.T) {
	at := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)
	u := models.StateUpdate{ItemID: uuid.New(), CurrentBid: 120, Leader: "bob", Version: 2, At: at}

	raw, err := Encode(UpdateID(u), TypeBidUpdated, u.ItemID, u, at)
	require.NoError(t, err)

	var got models.StateUpdate
	env, err := Decode(raw, &got)
	require.NoError(t, err)
	assert.Equal(t, TypeBidUpdated, env.Type)
	assert.Equal(t, u.ItemID.String()+":2", env.ID)
	assert.Equal(t, u.ItemID.String(), env.ItemID)
	assert.Equal(t, u, got)
}

func TestNewItemState(t *testing.T) {
	start := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	item := models.Item{ID: uuid.New(), StartTime: start, EndTime: start.Add(time.Hour)}

	s := NewItemState(item, start.Add(15*time.Minute))
	assert.Equal(t, lifecycle.StatusLive, s.Status)
	assert.Equal(t, "0h 45m 0s", s.TimeLeft)

	s = NewItemState(item, start.Add(2*time.Hour))
	assert.Equal(t, lifecycle.StatusEnded, s.Status)
	assert.Equal(t, "Ended", s.TimeLeft)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{"), nil)
	assert.Error(t, err)
}
