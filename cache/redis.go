package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisKeyPrefix namespaces all shellcache entries within the redis keyspace.
const redisKeyPrefix = "sc:"

// RedisCache is a Provider backed by a shared Redis server, for deployments
// where several proxy instances serve the same origin.
type RedisCache struct {
	client *redis.Client
	log    zerolog.Logger
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// NewRedisCache creates a new Redis-backed cache and verifies the connection.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", config.Addr).Int("db", config.DB).Msg("Connected to Redis cache")

	return &RedisCache{
		client: client,
		log:    logger,
	}, nil
}

func redisKey(store, key string) string {
	return redisKeyPrefix + store + ":" + key
}

func (c *RedisCache) Get(store, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bts, err := c.client.Get(ctx, redisKey(store, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bts, true, nil
}

func (c *RedisCache) Put(store, key string, bytes []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Set(ctx, redisKey(store, key), bytes, 0).Err()
}

func (c *RedisCache) Delete(store, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.client.Del(ctx, redisKey(store, key)).Err()
}

func (c *RedisCache) Keys(store string, cb func(key string)) error {
	fullKeys, err := c.scanKeys(redisKeyPrefix + store + ":*")
	if err != nil {
		return err
	}
	prefix := redisKey(store, "")
	keys := make([]string, 0, len(fullKeys))
	for _, k := range fullKeys {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (c *RedisCache) Count(store string) (int, error) {
	fullKeys, err := c.scanKeys(redisKeyPrefix + store + ":*")
	if err != nil {
		return 0, err
	}
	return len(fullKeys), nil
}

func (c *RedisCache) Stores() ([]string, error) {
	fullKeys, err := c.scanKeys(redisKeyPrefix + "*")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, k := range fullKeys {
		rest := strings.TrimPrefix(k, redisKeyPrefix)
		// store names cannot contain a colon, keys can
		if i := strings.Index(rest, ":"); i >= 0 {
			seen[rest[:i]] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (c *RedisCache) DropStore(store string) error {
	fullKeys, err := c.scanKeys(redisKeyPrefix + store + ":*")
	if err != nil {
		return err
	}
	if len(fullKeys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Del(ctx, fullKeys...).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) scanKeys(pattern string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}
