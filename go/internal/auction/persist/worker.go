package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// BidStore is the durable side of an accepted bid. Writes must be idempotent
// and must never move an item's stored bid backwards.
type BidStore interface {
	PersistBid(ctx context.Context, itemID uuid.UUID, currentBid int64, leader string) error
}

type Config struct {
	FlushInterval   time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		FlushInterval:   2 * time.Second,
		MaxRetries:      3,
		RetryDelay:      200 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

type pendingBid struct {
	currentBid int64
	leader     string
}

// Stats is a point-in-time view of the worker for health checks.
type Stats struct {
	Persisted       uint64    `json:"persisted"`
	Failed          uint64    `json:"failed"`
	Pending         int       `json:"pending"`
	LastPersistedAt time.Time `json:"last_persisted_at"`
}

// Worker writes accepted bids to the store in the background. Only the
// latest bid per item is kept while a write is outstanding, so a burst of
// bids on one item costs a single write.
type Worker struct {
	store  BidStore
	config Config
	clock  clockwork.Clock

	mu      sync.Mutex
	pending map[uuid.UUID]pendingBid
	stats   Stats
	running bool

	wake chan struct{}
}

func NewWorker(store BidStore, cfg Config, clock clockwork.Clock) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		store:   store,
		config:  cfg,
		clock:   clock,
		pending: make(map[uuid.UUID]pendingBid),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue records a bid for persistence. It never blocks.
func (w *Worker) Enqueue(itemID uuid.UUID, currentBid int64, leader string) {
	w.mu.Lock()
	if cur, ok := w.pending[itemID]; !ok || currentBid > cur.currentBid {
		w.pending[itemID] = pendingBid{currentBid: currentBid, leader: leader}
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Discard drops the queued bid of an item that was deleted. A write already
// in flight is not recalled.
func (w *Worker) Discard(itemID uuid.UUID) {
	w.mu.Lock()
	delete(w.pending, itemID)
	w.mu.Unlock()
}

// Run flushes on every enqueue and on a fallback interval until ctx is done,
// then makes one last attempt to drain what is pending.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("persist worker already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := w.clock.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	log.Info().
		Dur("flush_interval", w.config.FlushInterval).
		Int("max_retries", w.config.MaxRetries).
		Msg("persist worker started")

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), w.config.ShutdownTimeout)
			w.Flush(shutdownCtx)
			cancel()
			log.Info().Int("pending", w.Stats().Pending).Msg("persist worker stopped")
			return nil
		case <-w.wake:
			w.Flush(ctx)
		case <-ticker.Chan():
			w.Flush(ctx)
		}
	}
}

// Flush writes everything currently pending. Failed writes are re-queued
// unless a newer bid for the same item arrived meanwhile.
func (w *Worker) Flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[uuid.UUID]pendingBid, len(batch))
	w.mu.Unlock()

	for itemID, bid := range batch {
		err := w.persistWithRetry(ctx, itemID, bid)

		w.mu.Lock()
		if err != nil {
			w.stats.Failed++
			if cur, ok := w.pending[itemID]; !ok || cur.currentBid < bid.currentBid {
				w.pending[itemID] = bid
			}
		} else {
			w.stats.Persisted++
			w.stats.LastPersistedAt = w.clock.Now()
		}
		w.mu.Unlock()

		if err != nil {
			log.Error().
				Err(err).
				Str("item_id", itemID.String()).
				Int64("current_bid", bid.currentBid).
				Msg("failed to persist bid, will retry")
		}
	}
}

func (w *Worker) persistWithRetry(ctx context.Context, itemID uuid.UUID, bid pendingBid) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if delay := w.config.RetryDelay * time.Duration(attempt); delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-w.clock.After(delay):
				}
			}
		}

		if err := w.store.PersistBid(ctx, itemID, bid.currentBid, bid.leader); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("item_id", itemID.String()).
				Int("attempt", attempt+1).
				Msg("persist attempt failed")
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Pending = len(w.pending)
	return s
}

// Running reports whether Run is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
