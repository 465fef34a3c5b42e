package store

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeed(t *testing.T) {
	doc := `
items:
  - id: 8a0d3c1e-3f55-4c3b-9d7e-2f4b1a6c9e10
    title: Brass telescope
    description: Late 19th century
    start_time: 2026-06-01T10:00:00Z
    duration_minutes: 45
    starting_bid: 250
  - title: Oak desk
    start_time: 2026-06-01T12:00:00+02:00
    end_time: 2026-06-01T13:00:00+02:00
    increment: 25
`
	items, err := ParseSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, items, 2)

	scope := items[0]
	assert.Equal(t, uuid.MustParse("8a0d3c1e-3f55-4c3b-9d7e-2f4b1a6c9e10"), scope.ID)
	assert.Equal(t, int64(250), scope.CurrentBid)
	assert.Equal(t, models.DefaultIncrement, scope.Increment)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 45, 0, 0, time.UTC), scope.EndTime)
	require.NotNil(t, scope.Description)

	desk := items[1]
	assert.NotEqual(t, uuid.Nil, desk.ID)
	assert.Equal(t, int64(25), desk.Increment)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), desk.StartTime)
	assert.Equal(t, 60, desk.DurationMinutes)
	assert.Nil(t, desk.Description)
}

func TestParseSeedErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing title", "items:\n  - start_time: 2026-06-01T10:00:00Z\n    duration_minutes: 5\n"},
		{"missing window", "items:\n  - title: x\n    start_time: 2026-06-01T10:00:00Z\n"},
		{"bad id", "items:\n  - id: nope\n    title: x\n    start_time: 2026-06-01T10:00:00Z\n    duration_minutes: 5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
