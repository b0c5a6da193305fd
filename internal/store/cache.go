package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/metrics"
	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"
	memkv "github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv/memory"
	"go.uber.org/zap"
)

// Cache is the read cache and pubsub bus. It talks to Redis when reachable
// and otherwise falls back to an in-memory kv.Store plus PubSubHub.
type Cache struct {
	client    *redis.Client
	kvStore   kv.Store
	pubsubHub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to redisURL. An empty URL selects in-memory mode
// without probing.
func NewCache(redisURL string, logger *zap.SugaredLogger, metrics *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if redisURL == "" {
		return newMemoryCache(logger, metrics), nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		if strings.Contains(redisURL, "://") {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = &redis.Options{Addr: redisURL}
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolSize = 10
	opt.MinIdleConns = 5
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache and pubsub", "error", err)
		client.Close()
		return newMemoryCache(logger, metrics), nil
	}

	return &Cache{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}, nil
}

func newMemoryCache(logger *zap.SugaredLogger, metrics *metrics.Metrics) *Cache {
	return &Cache{
		kvStore:   memkv.New(30 * time.Second),
		pubsubHub: NewPubSubHub(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Cache keys and pubsub channels
const (
	KeyVault        = "yp:cache:vault"
	KeyPosition     = "yp:cache:position"
	KeyPending      = "yp:cache:pending"
	ChannelVaultPPS = "yp:vault:price"
	channelEvents   = "yp:events"
)

// EventChannel is the pubsub channel for one ledger event type.
func EventChannel(eventType string) string {
	return channelEvents + ":" + eventType
}

func PositionKey(account common.Address) string {
	return KeyPosition + ":" + strings.ToLower(account.Hex())
}

func PendingKey(account common.Address) string {
	return KeyPending + ":" + strings.ToLower(account.Hex())
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	var (
		data []byte
		err  error
	)
	if c.client != nil {
		data, err = c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			err = kv.ErrNotFound
		}
	} else {
		data, err = c.kvStore.Get(ctx, key)
	}

	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			if c.metrics != nil {
				c.metrics.RecordCacheMiss(ctx, keyLabel(key))
			}
			return ErrCacheMiss
		}
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}

	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, keyLabel(key))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

// keyLabel drops the per-account suffix so metric cardinality stays bounded.
func keyLabel(key string) string {
	for _, prefix := range []string{KeyPosition, KeyPending} {
		if strings.HasPrefix(key, prefix+":") {
			return prefix
		}
	}
	return key
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if c.client != nil {
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Errorw("Cache set error", "key", key, "error", err)
			return fmt.Errorf("cache set error: %w", err)
		}
		return nil
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if c.client != nil {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
			return fmt.Errorf("cache delete error: %w", err)
		}
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client != nil {
		count, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("cache exists error: %w", err)
		}
		return count > 0, nil
	}
	count, err := c.kvStore.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return count > 0, nil
}

// Publish JSON-encodes message onto channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	c.pubsubHub.Publish(channel, string(data))
	return nil
}

// Subscribe returns a subscription for channels in either mode. It ends when
// ctx is done or Close is called.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) Subscription {
	if c.client != nil {
		return newRedisSubscription(ctx, c.client.Subscribe(ctx, channels...))
	}
	return c.pubsubHub.Subscribe(ctx, channels...)
}

func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c.client != nil {
		return c.client.Ping(ctx).Err()
	}
	return nil
}

func (c *Cache) Close() error {
	var err error
	if c.client != nil {
		err = c.client.Close()
	}
	if c.kvStore != nil {
		if closeErr := c.kvStore.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

var ErrCacheMiss = errors.New("cache miss")
