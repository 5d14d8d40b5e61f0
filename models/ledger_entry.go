package models

import "time"

// LedgerEntry is one consumed point event. Rows are only ever inserted.
type LedgerEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	EventID    string    `gorm:"size:64;index;not null" json:"event_id"`
	UserID     string    `gorm:"size:128;index;not null" json:"user_id"`
	SourceType string    `gorm:"size:16;not null" json:"source_type"`
	Category   int       `gorm:"not null" json:"category"`
	Points     int       `gorm:"not null" json:"points"`
	OccurredAt time.Time `gorm:"not null" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName pins the ledger table name.
func (LedgerEntry) TableName() string { return "points_ledger" }
