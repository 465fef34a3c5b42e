package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/mcdev12/livebid/go/internal/auction/persist"
	"github.com/mcdev12/livebid/go/internal/auction/relay"
	"github.com/mcdev12/livebid/go/internal/auction/store"
	"github.com/mcdev12/livebid/go/internal/dbconfig"
	"github.com/rs/zerolog"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Store    StoreConfig
	Database dbconfig.Config
	NATS     NATSConfig
	Redis    RedisConfig
	Auction  AuctionConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReplicaPort     int           `envconfig:"REPLICA_PORT" default:"8081"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"true"`
}

// StoreConfig selects the item store.
type StoreConfig struct {
	Type       string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite or postgres
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/livebid.db"`
	Migrate    bool   `envconfig:"STORE_MIGRATE" default:"true"`
	SeedFile   string `envconfig:"SEED_FILE" default:""`
}

type NATSConfig struct {
	Enabled       bool   `envconfig:"NATS_ENABLED" default:"false"`
	URL           string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	StreamName    string `envconfig:"NATS_STREAM" default:"AUCTION_EVENTS"`
	SubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"auction.bids"`
	ConsumerName  string `envconfig:"NATS_CONSUMER" default:"auction-replica"`
}

type RedisConfig struct {
	Enabled   bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Addr      string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password  string        `envconfig:"REDIS_PASSWORD" default:""`
	DB        int           `envconfig:"REDIS_DB" default:"0"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"livebid:item"`
	TTL       time.Duration `envconfig:"REDIS_TTL" default:"24h"`
}

type AuctionConfig struct {
	RejectSelfOutbid     bool          `envconfig:"REJECT_SELF_OUTBID" default:"false"`
	ReaperInterval       time.Duration `envconfig:"REAPER_INTERVAL" default:"1s"`
	PersistFlushInterval time.Duration `envconfig:"PERSIST_FLUSH_INTERVAL" default:"2s"`
	PersistMaxRetries    int           `envconfig:"PERSIST_MAX_RETRIES" default:"3"`
	PersistRetryDelay    time.Duration `envconfig:"PERSIST_RETRY_DELAY" default:"200ms"`
	SendBuffer           int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	ListenerFallback     time.Duration `envconfig:"LISTENER_FALLBACK_INTERVAL" default:"30s"`
}

// Load reads .env if present and then the environment.
func Load() (Config, error) {
	// a missing .env is normal outside development
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if cfg.Store.Type != "sqlite" && cfg.Store.Type != "postgres" {
		return Config{}, fmt.Errorf("unknown STORE_TYPE %q", cfg.Store.Type)
	}
	return cfg, nil
}

func (c LogConfig) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || c.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}

func (c AuctionConfig) Persist() persist.Config {
	cfg := persist.DefaultConfig()
	cfg.FlushInterval = c.PersistFlushInterval
	cfg.MaxRetries = c.PersistMaxRetries
	cfg.RetryDelay = c.PersistRetryDelay
	return cfg
}

func (c NATSConfig) Publisher() relay.JetStreamConfig {
	cfg := relay.DefaultJetStreamConfig()
	cfg.URL = c.URL
	cfg.StreamName = c.StreamName
	cfg.SubjectPrefix = c.SubjectPrefix
	return cfg
}

func (c NATSConfig) Consumer() relay.ConsumerConfig {
	cfg := relay.DefaultConsumerConfig()
	cfg.URL = c.URL
	cfg.StreamName = c.StreamName
	cfg.ConsumerName = c.ConsumerName
	cfg.SubjectFilter = c.SubjectPrefix + ".>"
	return cfg
}

func (c RedisConfig) Store() store.RedisConfig {
	return store.RedisConfig{
		Addr:      c.Addr,
		Password:  c.Password,
		DB:        c.DB,
		KeyPrefix: c.KeyPrefix,
		TTL:       c.TTL,
	}
}
