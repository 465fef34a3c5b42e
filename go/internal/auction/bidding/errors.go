package bidding

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
)

var (
	// ErrNotFound is returned when the item is not in the registry.
	ErrNotFound = errors.New("item not found")
	// ErrNotLive is the parent of every NotLiveError.
	ErrNotLive = errors.New("item not live")
	// ErrInvalidBidder is returned for an empty bidder name.
	ErrInvalidBidder = errors.New("bidder is required")
	// ErrSelfOutbid is only returned when Options.RejectSelfOutbid is set.
	ErrSelfOutbid = errors.New("bidder is already leading")
)

// NotLiveError carries the status that made the item unbiddable.
type NotLiveError struct {
	ItemID uuid.UUID
	Status lifecycle.Status
}

func (e *NotLiveError) Error() string {
	return fmt.Sprintf("item %s is %s", e.ItemID, e.Status)
}

func (e *NotLiveError) Unwrap() error { return ErrNotLive }

// Rejection reasons carried in acks.
const (
	ReasonNotFound      = "not_found"
	ReasonUpcoming      = "upcoming"
	ReasonEnded         = "ended"
	ReasonInvalidBidder = "invalid_bidder"
	ReasonSelfOutbid    = "self_outbid"
	ReasonInternal      = "internal"
)

// Reason maps an engine error to its wire reason.
func Reason(err error) string {
	var nl *NotLiveError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &nl):
		if nl.Status == lifecycle.StatusUpcoming {
			return ReasonUpcoming
		}
		return ReasonEnded
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrInvalidBidder):
		return ReasonInvalidBidder
	case errors.Is(err, ErrSelfOutbid):
		return ReasonSelfOutbid
	default:
		return ReasonInternal
	}
}
