package models

import "time"

// EntityLikeCount is the durable like count materialized from like-changed events.
type EntityLikeCount struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EntityType string    `gorm:"index:idx_like_count_entity,unique;size:32;not null" json:"entity_type"`
	EntityID   string    `gorm:"index:idx_like_count_entity,unique;size:128;not null" json:"entity_id"`
	Likes      int64     `gorm:"not null;default:0" json:"likes"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName pins the table name used by the count upsert.
func (EntityLikeCount) TableName() string { return "entity_like_counts" }
