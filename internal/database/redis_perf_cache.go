package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trade-coordinator/internal/trade"
)

const (
	// perfKeyPrefix is the prefix for per-bot performance keys.
	// Format: perf:{botID}
	perfKeyPrefix = "perf"

	// perfTTL keeps stale snapshots from outliving their bots.
	perfTTL = 24 * time.Hour
)

// RedisPerfCache stores bot performance snapshots in Redis so multiple
// instances see the same numbers. When Redis is unavailable it falls
// back to an in-memory map and keeps serving.
type RedisPerfCache struct {
	client   *redis.Client
	logger   zerolog.Logger
	fallback int32 // 1 when operating on the in-memory map

	mu    sync.RWMutex
	local map[string]*trade.Performance
}

// NewRedisPerfCache connects to Redis. A failed ping does not error;
// the cache starts in fallback mode and retries on later writes.
func NewRedisPerfCache(addr, password string, db int, logger zerolog.Logger) *RedisPerfCache {
	c := &RedisPerfCache{
		logger: logger.With().Str("component", "PerfCache").Logger(),
		local:  make(map[string]*trade.Performance),
	}
	if addr == "" {
		c.logger.Info().Msg("Redis not configured, using in-memory performance cache")
		atomic.StoreInt32(&c.fallback, 1)
		return c
	}

	c.client = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Redis unreachable, falling back to in-memory performance cache")
		atomic.StoreInt32(&c.fallback, 1)
	} else {
		c.logger.Info().Str("addr", addr).Msg("Connected to Redis for performance cache")
	}
	return c
}

func perfKey(botID string) string {
	return fmt.Sprintf("%s:%s", perfKeyPrefix, botID)
}

// Get returns the bot's cached snapshot.
func (c *RedisPerfCache) Get(ctx context.Context, botID string) (*trade.Performance, bool) {
	if c.client != nil && atomic.LoadInt32(&c.fallback) == 0 {
		data, err := c.client.Get(ctx, perfKey(botID)).Bytes()
		if err == nil {
			var perf trade.Performance
			if jsonErr := json.Unmarshal(data, &perf); jsonErr == nil {
				return &perf, true
			}
		} else if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("Redis read failed, switching to in-memory cache")
			atomic.StoreInt32(&c.fallback, 1)
		} else {
			return nil, false
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	perf, ok := c.local[botID]
	if !ok {
		return nil, false
	}
	cp := *perf
	return &cp, true
}

// Set writes the snapshot to Redis and mirrors it locally so a Redis
// outage never loses the latest numbers.
func (c *RedisPerfCache) Set(ctx context.Context, perf *trade.Performance) {
	c.mu.Lock()
	cp := *perf
	c.local[perf.BotID] = &cp
	c.mu.Unlock()

	if c.client == nil {
		return
	}

	data, err := json.Marshal(perf)
	if err != nil {
		c.logger.Error().Err(err).Str("bot_id", perf.BotID).Msg("Failed to marshal performance snapshot")
		return
	}

	if err := c.client.Set(ctx, perfKey(perf.BotID), data, perfTTL).Err(); err != nil {
		if atomic.CompareAndSwapInt32(&c.fallback, 0, 1) {
			c.logger.Warn().Err(err).Msg("Redis write failed, switching to in-memory cache")
		}
		return
	}
	// A successful write ends fallback mode.
	if atomic.CompareAndSwapInt32(&c.fallback, 1, 0) {
		c.logger.Info().Msg("Redis recovered, resuming shared performance cache")
	}
}

// Close shuts the Redis connection down.
func (c *RedisPerfCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
