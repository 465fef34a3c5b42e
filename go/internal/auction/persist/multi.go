package persist

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// MultiStore writes every bid to each store and joins their errors.
// A retry re-applies to all of them.
type MultiStore []BidStore

func (m MultiStore) PersistBid(ctx context.Context, itemID uuid.UUID, currentBid int64, leader string) error {
	var errs []error
	for _, s := range m {
		if err := s.PersistBid(ctx, itemID, currentBid, leader); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
