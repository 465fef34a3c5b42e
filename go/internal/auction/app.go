package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/store"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ItemRepository defines what the app layer needs from the item store
type ItemRepository interface {
	DeleteItem(ctx context.Context, id uuid.UUID) error
}

// Subscriptions is the realtime side of an item.
type Subscriptions interface {
	CloseItem(itemID uuid.UUID)
}

// RemovalPublisher tells replicas about deleted items.
type RemovalPublisher interface {
	PublishRemoval(itemID uuid.UUID)
}

// SnapshotCache is an external copy of item state that must forget
// deleted items.
type SnapshotCache interface {
	Forget(ctx context.Context, itemID uuid.UUID) error
}

// PendingBids holds accepted bids not yet written out.
type PendingBids interface {
	Discard(itemID uuid.UUID)
}

// App keeps the registry, the hub and the outer copies of item state in
// step when items come and go.
type App struct {
	registry *bidding.Registry
	repo     ItemRepository
	subs     Subscriptions
	relay    RemovalPublisher
	cache    SnapshotCache
	pending  PendingBids
}

// NewApp creates a new auction App. relay, cache and pending may be nil.
func NewApp(registry *bidding.Registry, repo ItemRepository, subs Subscriptions, relay RemovalPublisher, cache SnapshotCache, pending PendingBids) *App {
	return &App{
		registry: registry,
		repo:     repo,
		subs:     subs,
		relay:    relay,
		cache:    cache,
		pending:  pending,
	}
}

// ItemCreated registers an item inserted outside the engine.
func (a *App) ItemCreated(item models.Item) {
	a.registry.Put(item)
	log.Info().
		Str("item_id", item.ID.String()).
		Str("title", item.Title).
		Msg("item registered")
}

// ItemDeleted forgets an item and closes its subscriptions. Deleting an
// unknown item is a no-op, so the store notification that follows
// RemoveItem is harmless.
func (a *App) ItemDeleted(id uuid.UUID) {
	if !a.registry.Remove(id) {
		return
	}
	a.subs.CloseItem(id)
	// drop queued writes first so they cannot refill the cache after Forget
	if a.pending != nil {
		a.pending.Discard(id)
	}
	if a.relay != nil {
		a.relay.PublishRemoval(id)
	}
	if a.cache != nil {
		if err := a.cache.Forget(context.Background(), id); err != nil {
			log.Warn().Err(err).Str("item_id", id.String()).Msg("failed to drop cached snapshot")
		}
	}
	log.Info().Str("item_id", id.String()).Msg("item removed")
}

// KnownItems lists registered item ids.
func (a *App) KnownItems() []uuid.UUID {
	items := a.registry.List()
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// RemoveItem deletes an item from the store and tears down its live state.
func (a *App) RemoveItem(ctx context.Context, id uuid.UUID) error {
	if _, err := a.registry.Get(id); err != nil {
		return err
	}
	if err := a.repo.DeleteItem(ctx, id); err != nil && !errors.Is(err, store.ErrItemNotFound) {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	a.ItemDeleted(id)
	return nil
}
