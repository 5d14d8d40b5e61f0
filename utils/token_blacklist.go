package utils

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevocations reads the revocation list the identity service maintains in Redis.
type TokenRevocations struct {
	rc *redis.Client
}

// NewTokenRevocations wraps rc; a nil client disables the check.
func NewTokenRevocations(rc *redis.Client) *TokenRevocations {
	return &TokenRevocations{rc: rc}
}

// RevocationKey is where the identity service marks a revoked token until it expires.
func RevocationKey(token string) string {
	return "jwt:blacklist:" + token
}

// IsRevoked checks if a token was revoked before natural expiration.
func (t *TokenRevocations) IsRevoked(ctx context.Context, token string) bool {
	if t == nil || t.rc == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	n, err := t.rc.Exists(ctx, RevocationKey(token)).Result()
	if err != nil {
		// fail-open to avoid locking every user out when Redis hiccups
		return false
	}
	return n > 0
}
