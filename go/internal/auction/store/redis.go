package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// raiseBidScript writes the bid only if it is higher than what is stored
// and refreshes the key's expiry.
// KEYS[1]: item hash, ARGV[1]: bid, ARGV[2]: leader, ARGV[3]: unix millis,
// ARGV[4]: ttl in millis (0 keeps the key forever).
var raiseBidScript = redis.NewScript(`
	local current = tonumber(redis.call('HGET', KEYS[1], 'current_bid') or '-1')
	local bid = tonumber(ARGV[1])
	if bid > current then
		redis.call('HSET', KEYS[1], 'current_bid', ARGV[1], 'leader', ARGV[2], 'updated_at', ARGV[3])
		local ttl = tonumber(ARGV[4])
		if ttl > 0 then
			redis.call('PEXPIRE', KEYS[1], ttl)
		end
		return 1
	end
	return 0
`)

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL bounds how long a hash outlives its last bid, so a write that
	// lands after Forget cannot linger.
	TTL time.Duration
}

// RedisMirror keeps a monotonic copy of every item's current bid in Redis
// for readers outside this process.
type RedisMirror struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "livebid:item"
	}
	return &RedisMirror{client: client, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

func (m *RedisMirror) key(itemID uuid.UUID) string {
	return m.keyPrefix + ":" + itemID.String()
}

func (m *RedisMirror) PersistBid(ctx context.Context, itemID uuid.UUID, currentBid int64, leader string) error {
	now := time.Now().UnixMilli()
	ttl := m.ttl.Milliseconds()
	if err := raiseBidScript.Run(ctx, m.client, []string{m.key(itemID)}, currentBid, leader, now, ttl).Err(); err != nil {
		return fmt.Errorf("mirror bid: %w", err)
	}
	return nil
}

// Forget drops the mirrored state of a deleted item.
func (m *RedisMirror) Forget(ctx context.Context, itemID uuid.UUID) error {
	err := m.client.Del(ctx, m.key(itemID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("forget item: %w", err)
	}
	return nil
}

func (m *RedisMirror) Ping(ctx context.Context) error { return m.client.Ping(ctx).Err() }

func (m *RedisMirror) Close() error { return m.client.Close() }
