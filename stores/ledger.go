package stores

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/cppla/bbspoints/models"
)

// LedgerStore appends point events to the SQL ledger.
type LedgerStore struct {
	db *gorm.DB
}

// NewLedgerStore creates a LedgerStore.
func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// Append inserts one entry. Entries are never updated or deleted.
func (s *LedgerStore) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append ledger entry for %s: %w", entry.UserID, err)
	}
	return nil
}

// Entries lists a user's ledger newest first. A non-positive limit returns everything.
func (s *LedgerStore) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list ledger for %s: %w", userID, err)
	}
	return out, nil
}

// UserTotal is a user's summed points and their most recent ledger entry.
type UserTotal struct {
	UserID    string
	Points    int64
	LastEntry models.LedgerEntry
}

// Totals sums the ledger per user.
func (s *LedgerStore) Totals(ctx context.Context) ([]UserTotal, error) {
	var rows []struct {
		UserID      string
		Points      int64
		LastEntryID uint
	}
	err := s.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("user_id, SUM(points) AS points, MAX(id) AS last_entry_id").
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sum ledger: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.LastEntryID)
	}
	var last []models.LedgerEntry
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&last).Error; err != nil {
		return nil, fmt.Errorf("load last ledger entries: %w", err)
	}
	byID := make(map[uint]models.LedgerEntry, len(last))
	for _, e := range last {
		byID[e.ID] = e
	}

	out := make([]UserTotal, 0, len(rows))
	for _, r := range rows {
		out = append(out, UserTotal{UserID: r.UserID, Points: r.Points, LastEntry: byID[r.LastEntryID]})
	}
	return out, nil
}
