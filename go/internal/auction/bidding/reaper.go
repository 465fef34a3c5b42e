package bidding

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction/lifecycle"
	"github.com/rs/zerolog/log"
)

// Reaper freezes items whose end time has passed so they stop accepting
// bids even if nobody bids on them again.
type Reaper struct {
	registry *Registry
	clock    clockwork.Clock
	interval time.Duration
}

func NewReaper(registry *Registry, clock clockwork.Clock, interval time.Duration) *Reaper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Reaper{registry: registry, clock: clock, interval: interval}
}

// Run sweeps until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

// Sweep freezes every item that has ended and returns how many changed.
func (r *Reaper) Sweep() int {
	now := r.clock.Now()
	n := 0
	for _, item := range r.registry.List() {
		if lifecycle.Evaluate(now, item.StartTime, item.EndTime) != lifecycle.StatusEnded {
			continue
		}
		if r.registry.freeze(item.ID) {
			n++
			log.Info().
				Str("item_id", item.ID.String()).
				Int64("final_bid", item.CurrentBid).
				Str("leader", item.LeaderName()).
				Msg("auction ended")
		}
	}
	return n
}
