// Package services holds the engagement and points flows: like toggles,
// check-ins, the leaderboard view and the broker consumers.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/cppla/bbspoints/models"
)

// ErrInvalidArgument marks caller mistakes that map to HTTP 400.
var ErrInvalidArgument = errors.New("invalid argument")

// Publisher hands an event to the bus. Implemented by *mq.Session.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any, messageID string) error
}

// CheckinBitmap is the per-month check-in bitmap. Implemented by *stores.CheckinStore.
type CheckinBitmap interface {
	Mark(ctx context.Context, userID string, day time.Time) error
	MonthPrefix(ctx context.Context, userID string, day time.Time) (uint64, error)
}

// LedgerAppender persists consumed point events. Implemented by *stores.LedgerStore.
type LedgerAppender interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
}

// ScoreIncrementer bumps a user's leaderboard score. Implemented by *stores.LeaderboardStore.
type ScoreIncrementer interface {
	Incr(ctx context.Context, userID string, delta int, at time.Time) (float64, error)
}

// EventClaimer deduplicates deliveries. Implemented by *stores.DedupStore.
type EventClaimer interface {
	Claim(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// LedgerReader lists a user's ledger entries newest first. Implemented by *stores.LedgerStore.
type LedgerReader interface {
	Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// DurableCounts reads materialized like counts. Implemented by *stores.LikeCountStore.
type DurableCounts interface {
	Counts(ctx context.Context, entityType string, entityIDs []string) (map[string]int64, error)
}

// publishTimeout bounds a single publish on request paths.
const publishTimeout = 3 * time.Second
