package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "epochkeeper:lock:"

// releaseScript deletes the key only while it still carries our token, so an
// expired lock taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares pool locks between keeper replicas. The TTL bounds how
// long a crashed replica can block a pool.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, prefix: prefix}
}

func (l *RedisLocker) Acquire(ctx context.Context, poolID string) (Release, error) {
	key := l.prefix + poolID
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		return nil
	}, nil
}
