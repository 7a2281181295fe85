package bypass

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisChecker reads server-asserted role claims from Redis. The auth
// service writes `<prefix><token-hash> = <role>` when it issues a session;
// riskd only ever reads.
type RedisChecker struct {
	client *redis.Client
	prefix string
	exempt map[string]bool
}

// NewRedisChecker connects a checker to the role claim store.
func NewRedisChecker(addr, prefix string, exemptRoles []string) *RedisChecker {
	if prefix == "" {
		prefix = "riskd:roleclaim:"
	}
	return &RedisChecker{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		exempt: roleSet(exemptRoles),
	}
}

// IsExempt looks up the token's role claim. A missing claim is a clean
// not-exempt; only transport failures surface as errors.
func (c *RedisChecker) IsExempt(ctx context.Context, identityToken string) (bool, error) {
	role, err := c.client.Get(ctx, c.prefix+TokenHash(identityToken)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading role claim: %w", err)
	}
	return c.exempt[role], nil
}

// Close releases the Redis connection.
func (c *RedisChecker) Close() error {
	return c.client.Close()
}
