package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	known   []uuid.UUID
	created []uuid.UUID
	deleted []uuid.UUID
}

func (h *recordingHandler) ItemCreated(item models.Item) { h.created = append(h.created, item.ID) }
func (h *recordingHandler) ItemDeleted(id uuid.UUID)     { h.deleted = append(h.deleted, id) }
func (h *recordingHandler) KnownItems() []uuid.UUID      { return h.known }

func TestParseChange(t *testing.T) {
	id := uuid.New()

	c, err := parseChange(`{"op":"delete","id":"` + id.String() + `"}`)
	require.NoError(t, err)
	assert.Equal(t, change{Op: "delete", ID: id}, c)

	_, err = parseChange(`{"op":"update","id":"` + id.String() + `"}`)
	assert.Error(t, err)

	_, err = parseChange(`not json`)
	assert.Error(t, err)
}

func TestApplyDiff(t *testing.T) {
	kept, gone, fresh := uuid.New(), uuid.New(), uuid.New()
	h := &recordingHandler{known: []uuid.UUID{kept, gone}}

	applyDiff(h, []models.Item{{ID: kept}, {ID: fresh}})

	assert.Equal(t, []uuid.UUID{gone}, h.deleted)
	assert.Equal(t, []uuid.UUID{fresh}, h.created)
}
