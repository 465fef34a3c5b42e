package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction"
	"github.com/mcdev12/livebid/go/internal/auction/gateway"
	"github.com/mcdev12/livebid/go/internal/auction/relay"
	"github.com/mcdev12/livebid/go/internal/auction/store"
	"github.com/mcdev12/livebid/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// A read-only gateway replica: it serves snapshots and the realtime socket
// from a mirror fed by the relay stream, and rejects bids.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.Log.ZerologLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("auction replica failed")
	}
	log.Info().Msg("auction replica shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	var itemStore store.ItemStore
	var err error
	if cfg.Store.Type == "postgres" {
		itemStore, err = store.OpenPostgres(ctx, cfg.Database.DSN())
	} else {
		itemStore, err = store.OpenSQLite(ctx, cfg.Store.SQLitePath)
	}
	if err != nil {
		return fmt.Errorf("open item store: %w", err)
	}
	defer itemStore.Close()

	hub := gateway.NewHub()
	mirror := relay.NewMirror(hub)

	items, err := itemStore.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	mirror.Load(items)

	consumer, err := relay.NewEventConsumer(ctx, mirror, hub, cfg.NATS.Consumer())
	if err != nil {
		return err
	}
	defer consumer.Close()

	svc := gateway.NewService(gateway.DefaultConnectionConfig(), gateway.Deps{
		Hub:   hub,
		Items: mirror,
		Clock: clockwork.NewRealClock(),
	})

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	mux.Handle("GET /health", auction.NewHealthChecker(nil, itemStore, nil, consumer, nil))
	server := gateway.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.ReplicaPort), mux)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Start(gctx) })

	if pg, ok := itemStore.(*store.PostgresStore); ok {
		lcfg := store.DefaultListenerConfig()
		lcfg.DatabaseURL = cfg.Database.DSN()
		lcfg.FallbackInterval = cfg.Auction.ListenerFallback
		listener, err := store.NewChangeListener(pg, mirror, lcfg)
		if err != nil {
			return err
		}
		g.Go(func() error { return listener.Start(gctx) })
	}

	g.Go(func() error {
		log.Info().
			Str("addr", server.Addr).
			Int("items", len(items)).
			Str("stream", cfg.NATS.StreamName).
			Msg("auction replica starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
