// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/mcp-gateway/pkg/gateway"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces gateway keys in a shared Redis.
const DefaultKeyPrefix = "mcpgw:"

// RedisConfig holds Redis connection configuration.
// Either Addr (standalone) or SentinelConfig (failover) must be set.
type RedisConfig struct {
	// Addr is the host:port of a standalone Redis server.
	Addr string

	// SentinelConfig selects a Sentinel-managed deployment when set.
	SentinelConfig *SentinelConfig

	Username string
	Password string
	DB       int

	// KeyPrefix is prepended to every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string
	SentinelAddrs []string
}

// RedisStore implements Store on Redis. Expiry is enforced by Redis itself,
// and conditional writes use SET NX so they hold across gateway replicas.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedRoute is the JSON value kept under each key.
// The TTL travels with the value so that reads can slide the expiry.
type storedRoute struct {
	Route gateway.Route `json:"route"`
	TTLMs int64         `json:"ttl_ms,omitempty"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("%w: redis: %w", gateway.ErrInvalidConfig, err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	var client redis.UniversalClient
	if cfg.SentinelConfig != nil {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelConfig.MasterName,
			SentinelAddrs: cfg.SentinelConfig.SentinelAddrs,
			DB:            cfg.DB,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			DB:           cfg.DB,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func validateRedisConfig(cfg *RedisConfig) error {
	if cfg.SentinelConfig == nil {
		if cfg.Addr == "" {
			return errors.New("either addr or sentinel configuration is required")
		}
		return nil
	}
	if cfg.SentinelConfig.MasterName == "" {
		return errors.New("sentinel master name is required")
	}
	if len(cfg.SentinelConfig.SentinelAddrs) == 0 {
		return errors.New("at least one sentinel address is required")
	}
	return nil
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) key(k string) string {
	return s.keyPrefix + k
}

// slidingGetScript returns the value under KEYS[1] and restarts its expiry with
// the TTL recorded in the value, atomically.
var slidingGetScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return false
end
local ok, stored = pcall(cjson.decode, data)
if ok and type(stored) == 'table' then
	local ttl = tonumber(stored.ttl_ms)
	if ttl and ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], string.format('%d', ttl))
	end
end
return data
`)

// deleteIfOwnedScript deletes KEYS[1] only when its route names ARGV[1] as instance.
// Returns 1 if the key was deleted, 0 otherwise.
var deleteIfOwnedScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
local ok, stored = pcall(cjson.decode, data)
if not ok or type(stored) ~= 'table' or type(stored.route) ~= 'table' then
	return 0
end
if stored.route.instance_id ~= ARGV[1] then
	return 0
end
return redis.call('DEL', KEYS[1])
`)

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (gateway.Route, error) {
	if key == "" {
		return gateway.Route{}, fmt.Errorf("%w: key is required", gateway.ErrInvalidInput)
	}

	data, err := slidingGetScript.Run(ctx, s.client, []string{s.key(key)}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return gateway.Route{}, ErrRouteNotFound
		}
		return gateway.Route{}, storeError("get", err)
	}

	var stored storedRoute
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		// A value we cannot read is as good as absent; the next Put replaces it.
		return gateway.Route{}, ErrRouteNotFound
	}
	return withExpiry(stored.Route, time.Now(), time.Duration(stored.TTLMs)*time.Millisecond), nil
}

// PutIfAbsentOrExpired implements Store.
func (s *RedisStore) PutIfAbsentOrExpired(ctx context.Context, key string, route gateway.Route, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("%w: key is required", gateway.ErrInvalidInput)
	}
	data, err := marshalRoute(route, ttl)
	if err != nil {
		return false, err
	}

	ok, err := s.client.SetNX(ctx, s.key(key), data, ttl).Result()
	if err != nil {
		return false, storeError("conditional put", err)
	}
	return ok, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, route gateway.Route, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", gateway.ErrInvalidInput)
	}
	data, err := marshalRoute(route, ttl)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return storeError("put", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return storeError("delete", err)
	}
	return nil
}

// DeleteIfOwned implements Store.
func (s *RedisStore) DeleteIfOwned(ctx context.Context, key, owner string) (bool, error) {
	n, err := deleteIfOwnedScript.Run(ctx, s.client, []string{s.key(key)}, owner).Int()
	if err != nil {
		return false, storeError("conditional delete", err)
	}
	return n == 1, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeError("ping", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func marshalRoute(route gateway.Route, ttl time.Duration) ([]byte, error) {
	data, err := json.Marshal(storedRoute{Route: route, TTLMs: ttl.Milliseconds()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal route: %w", err)
	}
	return data, nil
}

// storeError marks a Redis failure as transient so callers can retry it.
func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", gateway.ErrTransientStore, op, err)
}
