package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type write struct {
	itemID uuid.UUID
	bid    int64
	leader string
}

type fakeStore struct {
	mu       sync.Mutex
	failures int
	writes   []write
	attempts int
}

func (s *fakeStore) PersistBid(_ context.Context, itemID uuid.UUID, bid int64, leader string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errors.New("connection reset")
	}
	s.writes = append(s.writes, write{itemID, bid, leader})
	return nil
}

func (s *fakeStore) snapshot() ([]write, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...), s.attempts
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = 0
	return cfg
}

func TestFlushCoalescesPerItem(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, testConfig(), clockwork.NewFakeClock())
	item := uuid.New()

	w.Enqueue(item, 110, "alice")
	w.Enqueue(item, 130, "carol")
	w.Enqueue(item, 120, "bob")
	w.Flush(context.Background())

	writes, _ := store.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, write{item, 130, "carol"}, writes[0])

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.Persisted)
	assert.Zero(t, stats.Pending)
}

func TestDiscardDropsQueuedBid(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, testConfig(), clockwork.NewFakeClock())
	deleted, kept := uuid.New(), uuid.New()

	w.Enqueue(deleted, 110, "alice")
	w.Enqueue(kept, 210, "bob")
	w.Discard(deleted)
	w.Flush(context.Background())

	writes, _ := store.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, write{kept, 210, "bob"}, writes[0])
}

func TestFlushRetriesTransientFailures(t *testing.T) {
	store := &fakeStore{failures: 2}
	w := NewWorker(store, testConfig(), clockwork.NewFakeClock())
	item := uuid.New()

	w.Enqueue(item, 110, "alice")
	w.Flush(context.Background())

	writes, attempts := store.snapshot()
	assert.Equal(t, 3, attempts)
	require.Len(t, writes, 1)
	assert.Equal(t, uint64(0), w.Stats().Failed)
}

func TestFlushRequeuesAfterExhaustingRetries(t *testing.T) {
	store := &fakeStore{failures: -1}
	cfg := testConfig()
	cfg.MaxRetries = 1
	w := NewWorker(store, cfg, clockwork.NewFakeClock())
	item := uuid.New()

	w.Enqueue(item, 110, "alice")
	w.Flush(context.Background())

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, 1, stats.Pending)

	store.mu.Lock()
	store.failures = 0
	store.mu.Unlock()

	w.Flush(context.Background())
	writes, _ := store.snapshot()
	require.Len(t, writes, 1)
	assert.Equal(t, int64(110), writes[0].bid)
	assert.Zero(t, w.Stats().Pending)
}

func TestRunFlushesOnEnqueue(t *testing.T) {
	store := &fakeStore{}
	w := NewWorker(store, testConfig(), clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, w.Running, time.Second, 5*time.Millisecond)
	w.Enqueue(uuid.New(), 10, "alice")

	assert.Eventually(t, func() bool {
		writes, _ := store.snapshot()
		return len(writes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, w.Running())
}

func TestMultiStoreJoinsErrors(t *testing.T) {
	ok := &fakeStore{}
	bad := &fakeStore{failures: -1}
	err := MultiStore{ok, bad}.PersistBid(context.Background(), uuid.New(), 10, "a")
	require.Error(t, err)

	writes, _ := ok.snapshot()
	assert.Len(t, writes, 1)
}
