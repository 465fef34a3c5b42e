package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ChangeHandler reacts to items created or deleted outside the engine.
type ChangeHandler interface {
	ItemCreated(item models.Item)
	ItemDeleted(id uuid.UUID)
	KnownItems() []uuid.UUID
}

type ListenerConfig struct {
	DatabaseURL      string
	NotifyChannel    string
	FallbackInterval time.Duration // how often to re-list items in case a notification was missed
	PingInterval     time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    ChangeChannel,
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

type change struct {
	Op string    `json:"op"`
	ID uuid.UUID `json:"id"`
}

func parseChange(payload string) (change, error) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.Op != "insert" && c.Op != "delete" {
		return change{}, fmt.Errorf("unknown change op %q", c.Op)
	}
	return c, nil
}

// ChangeListener turns Postgres item notifications into handler calls.
type ChangeListener struct {
	store    ItemStore
	listener *pq.Listener
	handler  ChangeHandler
	cfg      ListenerConfig
}

func NewChangeListener(store ItemStore, handler ChangeHandler, cfg ListenerConfig) (*ChangeListener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for item changes")

	return &ChangeListener{
		store:    store,
		listener: l,
		handler:  handler,
		cfg:      cfg,
	}, nil
}

func (l *ChangeListener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	fallbackTicker := time.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("item change listener shutting down")
			return l.listener.Close()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established; notifications may have been lost
				if err := l.reconcile(ctx); err != nil {
					log.Error().Err(err).Msg("failed to reconcile items after reconnect")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle item change")
			}
		case <-fallbackTicker.C:
			if err := l.reconcile(ctx); err != nil {
				log.Error().Err(err).Msg("failed to reconcile items")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *ChangeListener) handleNotification(ctx context.Context, payload string) error {
	c, err := parseChange(payload)
	if err != nil {
		return err
	}

	switch c.Op {
	case "delete":
		l.handler.ItemDeleted(c.ID)
	case "insert":
		item, err := l.store.GetItem(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("fetch created item %s: %w", c.ID, err)
		}
		l.handler.ItemCreated(item)
	}

	log.Info().Str("op", c.Op).Str("item_id", c.ID.String()).Msg("applied item change")
	return nil
}

// reconcile re-lists items and applies any differences from what the
// handler already knows.
func (l *ChangeListener) reconcile(ctx context.Context) error {
	items, err := l.store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	applyDiff(l.handler, items)
	return nil
}

func applyDiff(handler ChangeHandler, items []models.Item) {
	present := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		present[item.ID] = struct{}{}
	}

	known := make(map[uuid.UUID]struct{})
	for _, id := range handler.KnownItems() {
		known[id] = struct{}{}
		if _, ok := present[id]; !ok {
			handler.ItemDeleted(id)
		}
	}
	for _, item := range items {
		if _, ok := known[item.ID]; !ok {
			handler.ItemCreated(item)
		}
	}
}
