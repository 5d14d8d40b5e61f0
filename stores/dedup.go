package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL bounds how long a processed event token is remembered.
const DefaultDedupTTL = 72 * time.Hour

// DedupKey is the marker for one processed event.
func DedupKey(token string) string {
	return "points:dedup:" + token
}

// DedupStore remembers event tokens so redelivered events are applied once.
type DedupStore struct {
	rc  redis.Cmdable
	ttl time.Duration
}

// NewDedupStore creates a DedupStore; a non-positive ttl falls back to DefaultDedupTTL.
func NewDedupStore(rc redis.Cmdable, ttl time.Duration) *DedupStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupStore{rc: rc, ttl: ttl}
}

// Claim marks token as processed. It returns false when another delivery already claimed it.
func (s *DedupStore) Claim(ctx context.Context, token string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	ok, err := s.rc.SetNX(ctx, DedupKey(token), time.Now().UnixMilli(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", token, err)
	}
	return ok, nil
}

// Release forgets token so a later redelivery is applied again.
func (s *DedupStore) Release(ctx context.Context, token string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := s.rc.Del(ctx, DedupKey(token)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", token, err)
	}
	return nil
}
