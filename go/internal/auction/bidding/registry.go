package bidding

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ItemLister is the read side of the item store used for hydration.
type ItemLister interface {
	ListItems(ctx context.Context) ([]models.Item, error)
}

type entry struct {
	mu     sync.RWMutex
	item   models.Item
	frozen bool
}

// Registry is the in-memory authoritative state of every item.
// The map lock only guards membership; each entry has its own lock so
// reads of one item never wait on writes to another.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	clock   clockwork.Clock
}

// NewRegistry creates an empty registry.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		entries: make(map[uuid.UUID]*entry),
		clock:   clock,
	}
}

// LoadAll hydrates the registry from the store. Items already ended are frozen.
func (r *Registry) LoadAll(ctx context.Context, lister ItemLister) (int, error) {
	items, err := lister.ListItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}

	now := r.clock.Now()
	frozen := 0
	for _, item := range items {
		if r.put(item, now) {
			frozen++
		}
	}

	log.Info().
		Int("items", len(items)).
		Int("frozen", frozen).
		Msg("registry hydrated")

	return len(items), nil
}

// Put registers an item created outside the engine. If the item is already
// known, metadata is refreshed but a higher in-memory bid is kept, and a
// higher stored bid bumps the version.
func (r *Registry) Put(item models.Item) {
	r.put(item, r.clock.Now())
}

func (r *Registry) put(item models.Item, now time.Time) bool {
	item.Normalize()
	ended := lifecycle.Evaluate(now, item.StartTime, item.EndTime) == lifecycle.StatusEnded

	r.mu.Lock()
	e, ok := r.entries[item.ID]
	if !ok {
		r.entries[item.ID] = &entry{item: item, frozen: ended}
		r.mu.Unlock()
		return ended
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.item.CurrentBid >= item.CurrentBid {
		item.CurrentBid = e.item.CurrentBid
		item.Leader = e.item.Leader
		item.Version = e.item.Version
		item.LastBidAt = e.item.LastBidAt
	} else {
		// the stored bid moved past ours; versions must keep rising
		item.Version = max(e.item.Version, item.Version) + 1
	}
	e.item = item
	e.frozen = e.frozen || ended
	return e.frozen
}

// Get returns a snapshot of the item.
func (r *Registry) Get(id uuid.UUID) (models.Item, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Item{}, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.item, nil
}

// List returns snapshots of all items ordered by start time.
func (r *Registry) List() []models.Item {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	items := make([]models.Item, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		items = append(items, e.item)
		e.mu.RUnlock()
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].StartTime.Equal(items[j].StartTime) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].StartTime.Before(items[j].StartTime)
	})
	return items
}

// Remove drops an item that was deleted externally.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len is the number of registered items.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) lookup(id uuid.UUID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// snapshot returns the item together with its frozen flag.
func (r *Registry) snapshot(id uuid.UUID) (models.Item, bool, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Item{}, false, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.item, e.frozen, nil
}

func (r *Registry) freeze(id uuid.UUID) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		return false
	}
	e.frozen = true
	return true
}

// applyAccepted records an accepted bid. Callers must hold the item's
// serializer; the registry itself does not order concurrent writers.
func (r *Registry) applyAccepted(id uuid.UUID, newBid int64, newLeader string, at time.Time) (models.Item, error) {
	e, ok := r.lookup(id)
	if !ok {
		return models.Item{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.frozen {
		return models.Item{}, &NotLiveError{ItemID: id, Status: lifecycle.StatusEnded}
	}
	if newBid <= e.item.CurrentBid {
		return models.Item{}, fmt.Errorf("bid %d does not exceed current %d for item %s", newBid, e.item.CurrentBid, id)
	}

	leader := newLeader
	e.item.CurrentBid = newBid
	e.item.Leader = &leader
	e.item.Version++
	e.item.LastBidAt = at

	return e.item, nil
}
