package stores

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/bbspoints/models"
)

// LikeCountStore keeps the durable per-entity like counts.
type LikeCountStore struct {
	db *gorm.DB
}

// NewLikeCountStore creates a LikeCountStore.
func NewLikeCountStore(db *gorm.DB) *LikeCountStore {
	return &LikeCountStore{db: db}
}

// Apply moves the entity's count by delta, never below zero.
func (s *LikeCountStore) Apply(ctx context.Context, entityType, entityID string, delta int64) error {
	initial := delta
	if initial < 0 {
		initial = 0
	}
	// upsert keeps concurrent consumers from racing on the unique index
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"likes":      gorm.Expr("CASE WHEN entity_like_counts.likes + ? < 0 THEN 0 ELSE entity_like_counts.likes + ? END", delta, delta),
			"updated_at": time.Now(),
		}),
	}).Create(&models.EntityLikeCount{EntityType: entityType, EntityID: entityID, Likes: initial}).Error
	if err != nil {
		return fmt.Errorf("apply like count %s/%s: %w", entityType, entityID, err)
	}
	return nil
}

// Counts returns the stored counts of the given entities. Entities without a row are left out.
func (s *LikeCountStore) Counts(ctx context.Context, entityType string, entityIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}
	var rows []models.EntityLikeCount
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id IN ?", entityType, entityIDs).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load like counts %s: %w", entityType, err)
	}
	for _, r := range rows {
		out[r.EntityID] = r.Likes
	}
	return out, nil
}
