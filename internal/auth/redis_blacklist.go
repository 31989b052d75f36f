package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// minRedisTTL keeps a claimed key alive long enough to block a replay even
// when the token's own expiry is a moment away.
const minRedisTTL = time.Second

// RedisBlacklist is a Blacklist shared by every server instance. Entries
// expire through Redis TTLs, so no cleanup is needed.
type RedisBlacklist struct {
	client redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisBlacklist creates a blacklist storing keys under prefix.
func NewRedisBlacklist(client redis.Cmdable, prefix string) *RedisBlacklist {
	return &RedisBlacklist{client: client, prefix: prefix, now: time.Now}
}

func (b *RedisBlacklist) ttl(expiresAt time.Time) time.Duration {
	ttl := expiresAt.Sub(b.now())
	if ttl < minRedisTTL {
		return minRedisTTL
	}
	return ttl
}

// Add implements Blacklist with SET key 1 PX ttl.
func (b *RedisBlacklist) Add(ctx context.Context, key string, expiresAt time.Time) error {
	if !expiresAt.After(b.now()) {
		return nil
	}
	if err := b.client.Set(ctx, b.prefix+key, 1, b.ttl(expiresAt)).Err(); err != nil {
		return fmt.Errorf("redis blacklist add: %w", err)
	}
	return nil
}

// Has implements Blacklist with EXISTS.
func (b *RedisBlacklist) Has(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis blacklist lookup: %w", err)
	}
	return n > 0, nil
}

// Claim implements Blacklist with SET NX.
func (b *RedisBlacklist) Claim(ctx context.Context, key string, expiresAt time.Time) (bool, error) {
	ok, err := b.client.SetNX(ctx, b.prefix+key, 1, b.ttl(expiresAt)).Result()
	if err != nil {
		return false, fmt.Errorf("redis blacklist claim: %w", err)
	}
	return ok, nil
}
