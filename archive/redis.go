package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glimte/mmate-relay/contracts"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces relay records in a shared cache
const DefaultKeyPrefix = "relay:message:"

// RedisStore writes records as JSON strings into a Redis-compatible cache
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	ownClient bool
}

// RedisOption configures a RedisStore
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the prefix prepended to every record id
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// WithTTL expires records after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore wraps an existing client. The caller keeps ownership of it.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedis creates a store from a redis:// or rediss:// URL. The connection
// is established lazily on the first command.
func OpenRedis(redisURL string, opts ...RedisOption) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("archive: invalid redis URL: %w", err)
	}

	s := NewRedisStore(redis.NewClient(opt), opts...)
	s.ownClient = true
	return s, nil
}

// Push implements Store
func (s *RedisStore) Push(ctx context.Context, id string, env contracts.Envelope) error {
	if id == "" {
		return ErrEmptyID
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("archive: failed to encode record %s: %w", id, err)
	}

	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("archive: failed to write record %s: %w", id, err)
	}
	return nil
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, id string) (*contracts.Envelope, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("archive: failed to read record %s: %w", id, err)
	}

	var env contracts.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("archive: failed to decode record %s: %w", id, err)
	}
	return &env, nil
}

// Ping checks that the cache is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store. A client passed to NewRedisStore is left open.
func (s *RedisStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}
