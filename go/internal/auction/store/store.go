package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/models"
)

// ErrItemNotFound is returned by single-item reads and deletes.
var ErrItemNotFound = errors.New("item not found")

// ItemStore is the durable home of items. Only the current bid snapshot is
// stored; there is no bid history.
type ItemStore interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	GetItem(ctx context.Context, id uuid.UUID) (models.Item, error)
	ImportItems(ctx context.Context, items []models.Item) (int, error)
	DeleteItem(ctx context.Context, id uuid.UUID) error
	// PersistBid raises the stored bid. It is a no-op when the stored bid
	// is already equal or higher, so replays are harmless.
	PersistBid(ctx context.Context, itemID uuid.UUID, currentBid int64, leader string) error
	Ping(ctx context.Context) error
	Close() error
}

func createdAt(item models.Item) time.Time {
	if item.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return item.CreatedAt.UTC()
}
