package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/bbspoints/metrics"
	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
	"github.com/cppla/bbspoints/stores"
	"github.com/cppla/bbspoints/utils"
)

// DefaultLikeReward is the points granted to the liker for a new like.
const DefaultLikeReward = 2

// ToggleResult reports whether a toggle changed membership and the count after it.
type ToggleResult struct {
	Applied  bool  `json:"applied"`
	NewCount int64 `json:"new_count"`
}

// LikeService toggles likes and announces the changes on the bus.
type LikeService struct {
	store   *stores.EngagementStore
	durable DurableCounts
	pub     Publisher
	reward  int
	log     *zap.Logger
	now     func() time.Time
}

// NewLikeService creates a LikeService. A zero reward disables like points;
// a negative one falls back to DefaultLikeReward.
func NewLikeService(store *stores.EngagementStore, pub Publisher, reward int, log *zap.Logger) *LikeService {
	if reward < 0 {
		reward = DefaultLikeReward
	}
	return &LikeService{store: store, pub: pub, reward: reward, log: log.Named("likes"), now: time.Now}
}

// ToggleLike sets whether userID likes the entity. Membership changes are
// never rolled back: a failed publish is logged and the toggle still succeeds.
// Unliking does not take back points granted by the earlier like.
func (s *LikeService) ToggleLike(ctx context.Context, entityType, entityID, userID string, liked bool) (ToggleResult, error) {
	entityType, entityID, userID = strings.TrimSpace(entityType), strings.TrimSpace(entityID), strings.TrimSpace(userID)
	if entityType == "" || entityID == "" || userID == "" {
		return ToggleResult{}, fmt.Errorf("%w: entity_type, entity_id and user are required", ErrInvalidArgument)
	}

	var (
		applied bool
		err     error
	)
	if liked {
		applied, err = s.store.Add(ctx, entityType, entityID, userID)
	} else {
		applied, err = s.store.Remove(ctx, entityType, entityID, userID)
	}
	if err != nil {
		return ToggleResult{}, err
	}

	count, err := s.store.RefreshCount(ctx, entityType, entityID)
	if err != nil {
		return ToggleResult{}, err
	}
	metrics.RecordToggle(entityType, liked, applied)

	if applied {
		s.announce(ctx, entityType, entityID, userID, liked)
	}
	return ToggleResult{Applied: applied, NewCount: count}, nil
}

func (s *LikeService) announce(ctx context.Context, entityType, entityID, userID string, liked bool) {
	ts := s.now().UnixMilli()
	action := "unlike"
	if liked {
		action = "like"
	}
	token := models.EventToken(entityType, entityID, action, userID, strconv.FormatInt(ts, 10))

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	changed := models.LikeChangedEvent{
		EntityType: entityType,
		EntityID:   entityID,
		Liked:      liked,
		UserID:     userID,
		Timestamp:  ts,
	}
	if err := s.pub.Publish(ctx, mq.KeyLikeCountChanged, changed, token); err != nil {
		s.log.Warn("publish like change failed, event lost",
			zap.String("entity_type", entityType), zap.String("entity_id", entityID),
			zap.String("user_id", userID), zap.Error(err))
	}
	if !liked || s.reward == 0 {
		return
	}

	reward := models.PointEvent{
		EventID:    token,
		UserID:     userID,
		SourceType: models.SourceLike,
		Points:     s.reward,
		Timestamp:  ts,
	}
	if err := s.pub.Publish(ctx, mq.KeyLikePoints, reward, token); err != nil {
		s.log.Warn("publish like points failed, event lost",
			zap.String("user_id", userID), zap.Int("points", s.reward), zap.Error(err))
	}
}

// GetLikedStatus returns the ids among entityIDs that userID likes, in request order.
func (s *LikeService) GetLikedStatus(ctx context.Context, entityType string, entityIDs []string, userID string) ([]string, error) {
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: entity_type and user are required", ErrInvalidArgument)
	}
	liked := make([]string, 0, len(entityIDs))
	for _, id := range utils.UniqueStrings(entityIDs) {
		ok, err := s.store.IsMember(ctx, entityType, id, userID)
		if err != nil {
			return nil, err
		}
		if ok {
			liked = append(liked, id)
		}
	}
	return liked, nil
}

// UseDurableCounts makes GetCounts fall back to the materialized counts for
// entities missing from the Redis cache.
func (s *LikeService) UseDurableCounts(d DurableCounts) {
	s.durable = d
}

// GetCounts returns the like count of each entity. Entities never liked count as zero.
func (s *LikeService) GetCounts(ctx context.Context, entityType string, entityIDs []string) (map[string]int64, error) {
	if strings.TrimSpace(entityType) == "" {
		return nil, fmt.Errorf("%w: entity_type is required", ErrInvalidArgument)
	}
	ids := utils.UniqueStrings(entityIDs)
	counts, err := s.store.Counts(ctx, entityType, ids)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := counts[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 && s.durable != nil {
		stored, err := s.durable.Counts(ctx, entityType, missing)
		if err != nil {
			s.log.Warn("durable like counts unavailable", zap.String("entity_type", entityType), zap.Error(err))
		}
		for id, n := range stored {
			counts[id] = n
		}
	}
	for _, id := range missing {
		if _, ok := counts[id]; !ok {
			counts[id] = 0
		}
	}
	return counts, nil
}
