package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLease claims keys with SET NX so only one instance works a key at a time.
type RedisLease struct {
	Client redis.Cmdable
	Prefix string
}

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Acquire returns the token that must be presented to Release.
func (l RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, l.Prefix+key, token, ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops the lease unless it expired and another holder took it.
func (l RedisLease) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.Client, []string{l.Prefix + key}, token).Err()
}
