package auction

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/persist"
	"github.com/mcdev12/livebid/go/internal/auction/store"
	"github.com/mcdev12/livebid/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	deleted []uuid.UUID
	err     error
}

func (r *fakeRepo) DeleteItem(_ context.Context, id uuid.UUID) error {
	r.deleted = append(r.deleted, id)
	return r.err
}

type recorder struct {
	closed    []uuid.UUID
	relayed   []uuid.UUID
	forgotten []uuid.UUID
	discarded []uuid.UUID
	events    []string
}

func (r *recorder) CloseItem(id uuid.UUID) { r.closed = append(r.closed, id) }

func (r *recorder) PublishRemoval(id uuid.UUID) { r.relayed = append(r.relayed, id) }

func (r *recorder) Forget(_ context.Context, id uuid.UUID) error {
	r.forgotten = append(r.forgotten, id)
	r.events = append(r.events, "forget")
	return nil
}

func (r *recorder) Discard(id uuid.UUID) {
	r.discarded = append(r.discarded, id)
	r.events = append(r.events, "discard")
}

var now = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

func newApp(repo *fakeRepo) (*App, *bidding.Registry, *recorder) {
	registry := bidding.NewRegistry(clockwork.NewFakeClockAt(now))
	rec := &recorder{}
	return NewApp(registry, repo, rec, rec, rec, rec), registry, rec
}

func TestAppItemCreatedAndDeleted(t *testing.T) {
	app, registry, rec := newApp(&fakeRepo{})
	item := models.Item{ID: uuid.New(), Title: "Poster", StartTime: now, EndTime: now.Add(time.Hour)}

	app.ItemCreated(item)
	got, err := registry.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultIncrement, got.Increment)
	assert.Equal(t, []uuid.UUID{item.ID}, app.KnownItems())

	app.ItemDeleted(item.ID)
	app.ItemDeleted(item.ID)

	_, err = registry.Get(item.ID)
	assert.ErrorIs(t, err, bidding.ErrNotFound)
	assert.Equal(t, []uuid.UUID{item.ID}, rec.closed)
	assert.Equal(t, []uuid.UUID{item.ID}, rec.relayed)
	assert.Equal(t, []uuid.UUID{item.ID}, rec.forgotten)
	assert.Equal(t, []uuid.UUID{item.ID}, rec.discarded)
	assert.Equal(t, []string{"discard", "forget"}, rec.events)
}

func TestAppRemoveItem(t *testing.T) {
	repo := &fakeRepo{}
	app, registry, rec := newApp(repo)
	item := models.Item{ID: uuid.New(), StartTime: now, EndTime: now.Add(time.Hour)}
	registry.Put(item)

	require.NoError(t, app.RemoveItem(context.Background(), item.ID))
	assert.Equal(t, []uuid.UUID{item.ID}, repo.deleted)
	assert.Equal(t, []uuid.UUID{item.ID}, rec.closed)

	err := app.RemoveItem(context.Background(), item.ID)
	assert.ErrorIs(t, err, bidding.ErrNotFound)
}

func TestAppRemoveItemStoreFailure(t *testing.T) {
	repo := &fakeRepo{err: errors.New("connection refused")}
	app, registry, rec := newApp(repo)
	item := models.Item{ID: uuid.New(), StartTime: now, EndTime: now.Add(time.Hour)}
	registry.Put(item)

	err := app.RemoveItem(context.Background(), item.ID)
	require.Error(t, err)
	assert.Empty(t, rec.closed)
	_, err = registry.Get(item.ID)
	assert.NoError(t, err)

	// already gone from the store still tears down live state
	repo.err = store.ErrItemNotFound
	require.NoError(t, app.RemoveItem(context.Background(), item.ID))
	assert.Len(t, rec.closed, 1)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeNATS bool

func (n fakeNATS) Connected() bool { return bool(n) }

type fakeWorker struct {
	stats   persist.Stats
	running bool
}

func (w fakeWorker) Stats() persist.Stats { return w.stats }
func (w fakeWorker) Running() bool { return w.running }

func TestHealthChecker(t *testing.T) {
	app, _, _ := newApp(&fakeRepo{})

	h := NewHealthChecker(app, fakePinger{}, fakePinger{err: errors.New("down")}, fakeNATS(true), fakeWorker{running: true})
	status := h.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.StoreConnected)
	assert.False(t, status.CacheConnected)
	assert.Len(t, status.Errors, 1)

	h = NewHealthChecker(app, fakePinger{}, nil, fakeNATS(false), fakeWorker{running: false})
	status = h.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Len(t, status.Errors, 2)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, false, body["healthy"])
}
