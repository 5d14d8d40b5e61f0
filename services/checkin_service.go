package services

import (
	"context"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/bbspoints/metrics"
	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
)

// CheckinRewards configures check-in points. A milestone bonus is added on
// top of Base when the streak exactly matches a key of Milestones.
type CheckinRewards struct {
	Base       int
	Milestones map[int]int
}

// DefaultCheckinRewards returns 1 point per day plus 10/20/40 at 7/14/28 days.
func DefaultCheckinRewards() CheckinRewards {
	return CheckinRewards{Base: 1, Milestones: map[int]int{7: 10, 14: 20, 28: 40}}
}

// CheckinResult is returned by AddCheckin.
type CheckinResult struct {
	ConsecutiveDays int `json:"consecutiveDays"`
	RewardPoints    int `json:"reward_points"`
}

// CheckinService records daily check-ins. Streaks do not carry across months.
type CheckinService struct {
	bits    CheckinBitmap
	pub     Publisher
	rewards CheckinRewards
	loc     *time.Location
	log     *zap.Logger
	now     func() time.Time
}

// NewCheckinService creates a CheckinService evaluating calendar days in loc.
func NewCheckinService(bm CheckinBitmap, pub Publisher, rewards CheckinRewards, loc *time.Location, log *zap.Logger) *CheckinService {
	if loc == nil {
		loc = time.Local
	}
	if rewards.Base < 0 {
		rewards.Base = DefaultCheckinRewards().Base
	}
	if rewards.Milestones == nil {
		rewards.Milestones = DefaultCheckinRewards().Milestones
	}
	return &CheckinService{bits: bm, pub: pub, rewards: rewards, loc: loc, log: log.Named("checkin"), now: time.Now}
}

// AddCheckin marks today, computes the streak ending today and publishes the reward.
// Repeating it on the same day returns the same result; the event carries the
// same id so the ledger consumer applies it once.
func (s *CheckinService) AddCheckin(ctx context.Context, userID string) (CheckinResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return CheckinResult{}, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	now := s.now()
	today := now.In(s.loc)

	if err := s.bits.Mark(ctx, userID, today); err != nil {
		return CheckinResult{}, err
	}
	prefix, err := s.bits.MonthPrefix(ctx, userID, today)
	if err != nil {
		return CheckinResult{}, err
	}

	streak := bits.TrailingZeros64(^prefix)
	if streak > today.Day() {
		streak = today.Day()
	}
	bonus := s.rewards.Milestones[streak]
	result := CheckinResult{ConsecutiveDays: streak, RewardPoints: s.rewards.Base + bonus}
	metrics.RecordCheckin(bonus > 0)

	event := models.PointEvent{
		EventID:    models.EventToken(string(models.SourceCheckin), userID, today.Format("2006-01-02")),
		UserID:     userID,
		SourceType: models.SourceCheckin,
		Points:     result.RewardPoints,
		Timestamp:  now.UnixMilli(),
	}
	if event.Points == 0 {
		return result, nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.pub.Publish(pubCtx, mq.KeyCheckinPoints, event, event.EventID); err != nil {
		s.log.Warn("publish checkin points failed, event lost",
			zap.String("user_id", userID), zap.Int("points", result.RewardPoints), zap.Error(err))
	}
	return result, nil
}

// QueryCheckin returns one 0/1 flag per day of the current month up to today, day 1 first.
func (s *CheckinService) QueryCheckin(ctx context.Context, userID string) ([]int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidArgument)
	}
	today := s.now().In(s.loc)
	prefix, err := s.bits.MonthPrefix(ctx, userID, today)
	if err != nil {
		return nil, err
	}

	days := make([]int, today.Day())
	for i := len(days) - 1; i >= 0; i-- {
		days[i] = int(prefix & 1)
		prefix >>= 1
	}
	return days, nil
}
