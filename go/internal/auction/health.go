package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcdev12/livebid/go/internal/auction/persist"
	"github.com/rs/zerolog/log"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ConnectionChecker interface {
	Connected() bool
}

type PersistWorker interface {
	Stats() persist.Stats
	Running() bool
}

type HealthStatus struct {
	Healthy         bool
	Items           int
	StoreConnected  bool
	CacheConnected  bool
	NATSConnected   bool
	PersisterActive bool
	Persist         persist.Stats
	Errors          []string
}

// HealthChecker reports on the collaborators of a running server. Nil
// components are skipped.
type HealthChecker struct {
	app          *App
	store        Pinger
	cache        Pinger
	nats         ConnectionChecker
	worker       PersistWorker
	pendingLimit int
}

func NewHealthChecker(app *App, store Pinger, cache Pinger, nats ConnectionChecker, worker PersistWorker) *HealthChecker {
	return &HealthChecker{
		app:          app,
		store:        store,
		cache:        cache,
		nats:         nats,
		worker:       worker,
		pendingLimit: 1000,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	if h.app != nil {
		status.Items = h.app.registry.Len()
	}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("store ping failed: %v", err))
		} else {
			status.StoreConnected = true
		}
	}

	// the cache is a mirror; losing it degrades but does not fail the server
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("cache ping failed: %v", err))
		} else {
			status.CacheConnected = true
		}
	}

	if h.nats != nil {
		status.NATSConnected = h.nats.Connected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.worker != nil {
		status.Persist = h.worker.Stats()
		status.PersisterActive = h.worker.Running()
		if !status.PersisterActive {
			status.Healthy = false
			status.Errors = append(status.Errors, "persister not active")
		}
		if status.Persist.Pending > h.pendingLimit {
			status.Errors = append(status.Errors, fmt.Sprintf("high pending persist count: %d", status.Persist.Pending))
		}
	}

	return status
}

// HTTP handler helper
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	response := map[string]interface{}{
		"healthy":          status.Healthy,
		"items":            status.Items,
		"store_connected":  status.StoreConnected,
		"cache_connected":  status.CacheConnected,
		"nats_connected":   status.NATSConnected,
		"persister_active": status.PersisterActive,
		"persist":          status.Persist,
		"errors":           status.Errors,
	}

	w.Header().Set("Content-Type", "application/json")

	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}
