// Package denylist provides the optional early-revocation store for access
// tokens. Self-contained signed tokens cannot be force-expired; when a
// deployment needs logout to also kill the outstanding access token, it
// trades a little statelessness for a denylist keyed by the token's jti.
package denylist

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "auth:denylist:"

// Denylist records revoked access token IDs until their natural expiry.
type Denylist interface {
	// Add marks a token ID as revoked for the given remaining lifetime.
	Add(ctx context.Context, jti string, ttl time.Duration) error

	// Contains reports whether a token ID has been revoked. Errors must be
	// treated by callers as "revoked" (fail closed).
	Contains(ctx context.Context, jti string) (bool, error)
}

// Redis implements Denylist on a Redis client, letting Redis TTLs expire
// entries exactly when the tokens they block would die anyway.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed denylist.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Add marks the token ID revoked. A non-positive TTL means the token is
// already expired and there is nothing to deny.
func (d *Redis) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, keyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist add: %w", err)
	}
	return nil
}

// Contains reports whether the token ID is revoked.
func (d *Redis) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("denylist lookup: %w", err)
	}
	return n > 0, nil
}
