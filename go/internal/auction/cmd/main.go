package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/livebid/go/internal/auction"
	"github.com/mcdev12/livebid/go/internal/auction/bidding"
	"github.com/mcdev12/livebid/go/internal/auction/gateway"
	"github.com/mcdev12/livebid/go/internal/auction/persist"
	"github.com/mcdev12/livebid/go/internal/auction/relay"
	"github.com/mcdev12/livebid/go/internal/auction/store"
	"github.com/mcdev12/livebid/go/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("auction server failed")
	}
	log.Info().Msg("auction server shutdown complete")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.ZerologLevel())
}

func openStore(ctx context.Context, cfg config.Config) (store.ItemStore, error) {
	if cfg.Store.Type == "postgres" {
		pg, err := store.OpenPostgres(ctx, cfg.Database.DSN())
		if err != nil {
			return nil, err
		}
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	}

	if cfg.Store.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return store.OpenSQLite(ctx, cfg.Store.SQLitePath)
}

func seed(ctx context.Context, items store.ItemStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	parsed, err := store.ParseSeed(f)
	if err != nil {
		return err
	}
	n, err := items.ImportItems(ctx, parsed)
	if err != nil {
		return err
	}
	log.Info().Str("file", path).Int("imported", n).Msg("seed items imported")
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	clock := clockwork.NewRealClock()

	itemStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open item store: %w", err)
	}
	defer itemStore.Close()

	if cfg.Store.SeedFile != "" {
		if err := seed(ctx, itemStore, cfg.Store.SeedFile); err != nil {
			return err
		}
	}

	registry := bidding.NewRegistry(clock)
	if _, err := registry.LoadAll(ctx, itemStore); err != nil {
		return err
	}

	// Durable sinks: the store always, Redis when enabled
	sinks := persist.MultiStore{itemStore}
	var cache *store.RedisMirror
	if cfg.Redis.Enabled {
		cache, err = store.NewRedisMirror(ctx, cfg.Redis.Store())
		if err != nil {
			return err
		}
		defer cache.Close()
		sinks = append(sinks, cache)
	}
	worker := persist.NewWorker(sinks, cfg.Auction.Persist(), clock)

	hub := gateway.NewHub()
	publishers := bidding.Publishers{hub}
	var relayPub *relay.JetStreamPublisher
	if cfg.NATS.Enabled {
		relayPub, err = relay.NewJetStreamPublisher(ctx, cfg.NATS.Publisher())
		if err != nil {
			return err
		}
		defer relayPub.Close()
		publishers = append(publishers, relayPub)
	}

	engine := bidding.NewEngine(registry, publishers, worker, clock, bidding.Options{
		RejectSelfOutbid: cfg.Auction.RejectSelfOutbid,
	})

	// typed nils must not reach the interfaces below
	var (
		removals  auction.RemovalPublisher
		snapshot  auction.SnapshotCache
		cachePing auction.Pinger
		natsConn  auction.ConnectionChecker
	)
	if relayPub != nil {
		removals, natsConn = relayPub, relayPub
	}
	if cache != nil {
		snapshot, cachePing = cache, cache
	}
	app := auction.NewApp(registry, itemStore, hub, removals, snapshot, worker)
	health := auction.NewHealthChecker(app, itemStore, cachePing, natsConn, worker)

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.SendBuffer = cfg.Auction.SendBuffer
	svc := gateway.NewService(connCfg, gateway.Deps{
		Hub:     hub,
		Items:   registry,
		Bids:    engine,
		Remover: app,
		Clock:   clock,
	})

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	mux.Handle("GET /health", health)
	server := gateway.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.Port), mux)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return bidding.NewReaper(registry, clock, cfg.Auction.ReaperInterval).Run(gctx) })

	if relayPub != nil {
		g.Go(func() error { return relayPub.Run(gctx) })
	}

	if pg, ok := itemStore.(*store.PostgresStore); ok {
		lcfg := store.DefaultListenerConfig()
		lcfg.DatabaseURL = cfg.Database.DSN()
		lcfg.FallbackInterval = cfg.Auction.ListenerFallback
		listener, err := store.NewChangeListener(pg, app, lcfg)
		if err != nil {
			return err
		}
		g.Go(func() error { return listener.Start(gctx) })
	}

	g.Go(func() error {
		log.Info().
			Str("addr", server.Addr).
			Str("store", cfg.Store.Type).
			Bool("nats", cfg.NATS.Enabled).
			Bool("redis", cfg.Redis.Enabled).
			Int("items", registry.Len()).
			Msg("auction server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down auction server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
