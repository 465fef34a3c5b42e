// Package reconciler keeps a viewer's local picture of auction items in line
// with the authoritative state, from the viewer's own point of view.
package reconciler

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/events"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
	"github.com/mcdev12/livebid/go/internal/models"
)

var (
	// ErrResyncRequired is returned for incremental updates received after a
	// disconnect and before the next Resync.
	ErrResyncRequired = errors.New("resync required")
	ErrUnknownItem    = errors.New("unknown item")
)

// ItemView is what one viewer sees of one item.
type ItemView struct {
	ItemID     uuid.UUID
	Title      string
	CurrentBid int64
	Leader     string
	Version    int64
	StartTime  time.Time
	EndTime    time.Time

	AmLeading  bool
	OutbidBy   string // leader that displaced us, empty unless we have bid
	HasEverBid bool
}

// Reconciler is safe for concurrent use; the socket reader and the UI
// typically run on different goroutines.
type Reconciler struct {
	self string

	mu           sync.RWMutex
	views        map[uuid.UUID]*ItemView
	hasBid       map[uuid.UUID]bool
	disconnected bool
}

func New(self string) *Reconciler {
	return &Reconciler{
		self:   self,
		views:  make(map[uuid.UUID]*ItemView),
		hasBid: make(map[uuid.UUID]bool),
	}
}

func (r *Reconciler) Self() string { return r.self }

// ApplyUpdate folds a broadcast state update into the view. Every accepted
// bid raises the price, so an update at or below the view's bid is a
// duplicate or stale and is ignored. Versions are not compared: they start
// over when the engine restarts, while viewers on a replica stay connected.
func (r *Reconciler) ApplyUpdate(u models.StateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disconnected {
		return ErrResyncRequired
	}
	v, ok := r.views[u.ItemID]
	if !ok {
		return ErrUnknownItem
	}
	if u.CurrentBid <= v.CurrentBid {
		return nil
	}

	v.CurrentBid = u.CurrentBid
	v.Leader = u.Leader
	v.Version = u.Version
	r.refreshStanding(v)
	return nil
}

// ApplyAck records the answer to one of our own bids.
func (r *Reconciler) ApplyAck(itemID uuid.UUID, ack events.AckPayload) error {
	if !ack.Accepted {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.hasBid[itemID] = true
	v, ok := r.views[itemID]
	if !ok {
		return ErrUnknownItem
	}
	v.HasEverBid = true

	// a broadcast may already have moved past our bid
	if ack.CurrentBid > v.CurrentBid {
		v.CurrentBid = ack.CurrentBid
		v.Leader = ack.Leader
		v.Version = ack.Version
	}
	r.refreshStanding(v)
	return nil
}

// ApplySnapshot installs one authoritative snapshot, for example the one sent
// after subscribing. Snapshots below the view's bid are ignored.
func (r *Reconciler) ApplySnapshot(item models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disconnected {
		return ErrResyncRequired
	}
	if v, ok := r.views[item.ID]; ok && item.CurrentBid < v.CurrentBid {
		return nil
	}
	r.views[item.ID] = r.viewOf(item)
	return nil
}

// Resync discards every view and rebuilds from authoritative snapshots.
// Only whether we have ever bid on an item survives.
func (r *Reconciler) Resync(items []models.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.views = make(map[uuid.UUID]*ItemView, len(items))
	for _, item := range items {
		r.views[item.ID] = r.viewOf(item)
	}
	r.disconnected = false
}

// MarkDisconnected invalidates the views until the next Resync.
func (r *Reconciler) MarkDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = true
}

// Forget drops an item that was removed.
func (r *Reconciler) Forget(itemID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, itemID)
}

// NeedsResync reports whether a disconnect has not been repaired yet.
func (r *Reconciler) NeedsResync() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disconnected
}

// View returns a copy of the item's view.
func (r *Reconciler) View(itemID uuid.UUID) (ItemView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.views[itemID]
	if !ok {
		return ItemView{}, false
	}
	return *v, true
}

// Views returns copies of all views.
func (r *Reconciler) Views() []ItemView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ItemView, 0, len(r.views))
	for _, v := range r.views {
		out = append(out, *v)
	}
	return out
}

// Countdown renders the time left on an item's clock.
func (r *Reconciler) Countdown(itemID uuid.UUID, now time.Time) (string, error) {
	v, ok := r.View(itemID)
	if !ok {
		return "", ErrUnknownItem
	}
	return lifecycle.FormatTimeLeft(lifecycle.TimeLeft(now, v.EndTime)), nil
}

func (r *Reconciler) Status(itemID uuid.UUID, now time.Time) (lifecycle.Status, error) {
	v, ok := r.View(itemID)
	if !ok {
		return "", ErrUnknownItem
	}
	return lifecycle.Evaluate(now, v.StartTime, v.EndTime), nil
}

func (r *Reconciler) viewOf(item models.Item) *ItemView {
	v := &ItemView{
		ItemID:     item.ID,
		Title:      item.Title,
		CurrentBid: item.CurrentBid,
		Leader:     item.LeaderName(),
		Version:    item.Version,
		StartTime:  item.StartTime,
		EndTime:    item.EndTime,
		HasEverBid: r.hasBid[item.ID],
	}
	r.refreshStanding(v)
	return v
}

func (r *Reconciler) refreshStanding(v *ItemView) {
	switch {
	case v.Leader != "" && v.Leader == r.self:
		v.AmLeading = true
		v.OutbidBy = ""
	case v.HasEverBid:
		v.AmLeading = false
		v.OutbidBy = v.Leader
	}
	// never bid: the update only refreshes the price
}
