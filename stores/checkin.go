package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckinKey is the per-user, per-month bitmap; bit day-1 marks that day.
func CheckinKey(userID string, day time.Time) string {
	return fmt.Sprintf("checkin:%s:%s", userID, day.Format("200601"))
}

// CheckinStore reads and writes check-in bitmaps.
type CheckinStore struct {
	rc redis.Cmdable
}

// NewCheckinStore creates a CheckinStore.
func NewCheckinStore(rc redis.Cmdable) *CheckinStore {
	return &CheckinStore{rc: rc}
}

// Mark sets the bit for day. Setting it again is a no-op.
func (s *CheckinStore) Mark(ctx context.Context, userID string, day time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := s.rc.SetBit(ctx, CheckinKey(userID, day), int64(day.Day()-1), 1).Err(); err != nil {
		return fmt.Errorf("setbit %s: %w", CheckinKey(userID, day), err)
	}
	return nil
}

// MonthPrefix returns bits for day 1 through day of the month as an unsigned
// integer; day 1 is the most significant bit, day itself the least.
func (s *CheckinStore) MonthPrefix(ctx context.Context, userID string, day time.Time) (uint64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	key := CheckinKey(userID, day)
	vals, err := s.rc.BitField(ctx, key, "GET", fmt.Sprintf("u%d", day.Day()), 0).Result()
	if err != nil {
		return 0, fmt.Errorf("bitfield %s: %w", key, err)
	}
	if len(vals) == 0 {
		return 0, nil
	}
	return uint64(vals[0]), nil
}
