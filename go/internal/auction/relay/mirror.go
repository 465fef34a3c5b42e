package relay

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/models"
)

// ItemCloser is notified when an item disappears from the mirror.
type ItemCloser interface {
	CloseItem(itemID uuid.UUID)
}

// Mirror is a replica's read-only copy of item state. It is fed by the
// relay stream and never arbitrates.
type Mirror struct {
	mu     sync.RWMutex
	items  map[uuid.UUID]models.Item
	closer ItemCloser
}

func NewMirror(closer ItemCloser) *Mirror {
	return &Mirror{
		items:  make(map[uuid.UUID]models.Item),
		closer: closer,
	}
}

// Load replaces the mirror's content with items.
func (m *Mirror) Load(items []models.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[uuid.UUID]models.Item, len(items))
	for _, item := range items {
		item.Normalize()
		m.items[item.ID] = item
	}
}

func (m *Mirror) Get(id uuid.UUID) (models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[id]
	if !ok {
		return models.Item{}, bidding.ErrNotFound
	}
	return item, nil
}

func (m *Mirror) List() []models.Item {
	m.mu.RLock()
	out := make([]models.Item, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// Apply records an update unless it is stale or for an unknown item.
// Redelivered updates report false. Staleness is judged by the bid, which
// only rises, since versions start over when the engine restarts.
func (m *Mirror) Apply(u models.StateUpdate) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[u.ItemID]
	if !ok || u.CurrentBid <= item.CurrentBid {
		return false
	}
	item.CurrentBid = u.CurrentBid
	leader := u.Leader
	item.Leader = &leader
	item.Version = u.Version
	item.LastBidAt = u.At
	m.items[u.ItemID] = item
	return true
}

// ItemCreated implements store.ChangeHandler.
func (m *Mirror) ItemCreated(item models.Item) {
	item.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.items[item.ID]; ok && cur.CurrentBid >= item.CurrentBid {
		return
	}
	m.items[item.ID] = item
}

// ItemDeleted implements store.ChangeHandler.
func (m *Mirror) ItemDeleted(id uuid.UUID) {
	m.mu.Lock()
	_, ok := m.items[id]
	delete(m.items, id)
	m.mu.Unlock()

	if ok && m.closer != nil {
		m.closer.CloseItem(id)
	}
}

// KnownItems implements store.ChangeHandler.
func (m *Mirror) KnownItems() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.items))
	for id := range m.items {
		ids = append(ids, id)
	}
	return ids
}
