package callconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vango-go/voicebridge/pkg/core"
)

const DefaultCacheTTL = 5 * time.Minute

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisCache stores resolved configurations as JSON under Prefix+key.
type RedisCache struct {
	client redisClient
	Prefix string
	TTL    time.Duration
}

func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, Prefix: prefix, TTL: ttl}
}

// NewRedisCacheFromURL parses a redis:// URL and returns a cache plus the
// client, which the caller closes.
func NewRedisCacheFromURL(url, prefix string, ttl time.Duration) (*RedisCache, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return NewRedisCache(client, prefix, ttl), client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (core.AgentConfig, bool, error) {
	raw, err := c.client.Get(ctx, c.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.AgentConfig{}, false, nil
	}
	if err != nil {
		return core.AgentConfig{}, false, err
	}
	var cfg core.AgentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return core.AgentConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, cfg core.AgentConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Prefix+key, raw, c.TTL).Err()
}
