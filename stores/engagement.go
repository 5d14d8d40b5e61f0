// Package stores wraps the Redis and SQL structures behind the engagement and points flows.
package stores

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Per-call Redis timeout used on request paths.
const redisCallTimeout = 2 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, redisCallTimeout)
}

// MembershipKey is the set of users currently liking one entity.
func MembershipKey(entityType, entityID string) string {
	return fmt.Sprintf("likes:set:biz:%s:%s", entityType, entityID)
}

// CountKey is the hash of like counts for one entity type, one field per entity id.
func CountKey(entityType string) string {
	return "likes:times:type:" + entityType
}

// EngagementStore keeps like membership sets and their cached counts.
type EngagementStore struct {
	rc redis.Cmdable
}

// NewEngagementStore creates an EngagementStore.
func NewEngagementStore(rc redis.Cmdable) *EngagementStore {
	return &EngagementStore{rc: rc}
}

// Add puts userID in the membership set and reports whether it was absent.
func (s *EngagementStore) Add(ctx context.Context, entityType, entityID, userID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := s.rc.SAdd(ctx, MembershipKey(entityType, entityID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("sadd %s/%s: %w", entityType, entityID, err)
	}
	return n == 1, nil
}

// Remove takes userID out of the membership set and reports whether it was present.
func (s *EngagementStore) Remove(ctx context.Context, entityType, entityID, userID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := s.rc.SRem(ctx, MembershipKey(entityType, entityID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("srem %s/%s: %w", entityType, entityID, err)
	}
	return n == 1, nil
}

// RefreshCount recomputes the set cardinality and writes it into the count hash.
func (s *EngagementStore) RefreshCount(ctx context.Context, entityType, entityID string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	n, err := s.rc.SCard(ctx, MembershipKey(entityType, entityID)).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s/%s: %w", entityType, entityID, err)
	}
	if err := s.rc.HSet(ctx, CountKey(entityType), entityID, n).Err(); err != nil {
		return 0, fmt.Errorf("hset count %s/%s: %w", entityType, entityID, err)
	}
	return n, nil
}

// IsMember reports whether userID currently likes the entity.
func (s *EngagementStore) IsMember(ctx context.Context, entityType, entityID, userID string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	ok, err := s.rc.SIsMember(ctx, MembershipKey(entityType, entityID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("sismember %s/%s: %w", entityType, entityID, err)
	}
	return ok, nil
}

// Counts reads cached counts for entityIDs. Entities with no cached count are left out.
func (s *EngagementStore) Counts(ctx context.Context, entityType string, entityIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	vals, err := s.rc.HMGet(ctx, CountKey(entityType), entityIDs...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget counts %s: %w", entityType, err)
	}
	for i, id := range entityIDs {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count %s/%s: %w", entityType, id, err)
		}
		out[id] = n
	}
	return out, nil
}
