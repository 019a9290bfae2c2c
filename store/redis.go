package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ezachrisen/ruleswp"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is the namespace of rule set keys in Redis.
// Example: "ruleset:tax-v1"
const DefaultKeyPrefix = "ruleset"

// RedisClient is the subset of redis.Cmdable used by RedisSource.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisSource reads definitions stored as strings under <prefix>:<name>.
type RedisSource struct {
	client RedisClient
	prefix string
}

var _ ruleswp.Source = (*RedisSource)(nil)

// NewRedisSource creates a source reading keys with the prefix. An empty
// prefix means DefaultKeyPrefix.
func NewRedisSource(client RedisClient, prefix string) *RedisSource {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisSource{client: client, prefix: prefix}
}

func (s *RedisSource) key(name string) string {
	return fmt.Sprintf("%s:%s", s.prefix, name)
}

func (s *RedisSource) Definition(ctx context.Context, name string) (*ruleswp.Definition, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading rule set %s: %w", name, err)
	}
	return decode(name, data)
}

// Put stores the definition, replacing any definition with the same name.
func (s *RedisSource) Put(ctx context.Context, def *ruleswp.Definition) error {
	data, err := encode(def)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(def.Name), data, 0).Err(); err != nil {
		return fmt.Errorf("storing rule set %s: %w", def.Name, err)
	}
	return nil
}
