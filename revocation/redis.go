package revocation

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "authcore:"

// RedisCache is a Cache shared by every instance pointing at the same Redis.
//
// Revoked JTIs live in one set per user, "<prefix>revoked_jti:<username>",
// whose expiry is pushed forward on every add. Validity flags live under
// "<prefix>refresh_token:<sha256(secret)>" as "1" or "0".
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache wraps client. An empty prefix uses "authcore:". The cache
// does not own client; Close is a no-op.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) jtiKey(username string) string {
	return c.prefix + "revoked_jti:" + username
}

func (c *RedisCache) validityKey(secret string) string {
	return c.prefix + "refresh_token:" + fingerprint(secret)
}

func (c *RedisCache) AddRevokedJTI(ctx context.Context, username, jti string, ttl time.Duration) error {
	key := c.jtiKey(username)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, jti)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (c *RedisCache) IsJTIRevoked(ctx context.Context, username, jti string) (bool, error) {
	return c.client.SIsMember(ctx, c.jtiKey(username), jti).Result()
}

func (c *RedisCache) SetRefreshValidity(ctx context.Context, secret string, valid bool, ttl time.Duration) error {
	value := "0"
	if valid {
		value = "1"
	}
	return c.client.Set(ctx, c.validityKey(secret), value, ttl).Err()
}

func (c *RedisCache) RefreshValidity(ctx context.Context, secret string) (bool, bool, error) {
	value, err := c.client.Get(ctx, c.validityKey(secret)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return value == "1", true, nil
}

func (c *RedisCache) Close() error { return nil }
