package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/metrics"
	"github.com/cppla/bbspoints/stores"
)

// Drift is one user whose leaderboard score differs from the ledger sum.
type Drift struct {
	UserID string  `json:"user_id"`
	Ledger int64   `json:"ledger"`
	Board  float64 `json:"board"`
}

// AuditReport summarises one comparison of ledger and leaderboard.
type AuditReport struct {
	Users int     `json:"users"`
	Drift []Drift `json:"drift"`
}

// AuditService compares the ledger with the leaderboard on a schedule and can
// rebuild the leaderboard from the ledger on demand. The audit only reports.
type AuditService struct {
	ledger *stores.LedgerStore
	board  *stores.LeaderboardStore
	log    *zap.Logger
	cron   *cron.Cron
}

// NewAuditService creates an AuditService.
func NewAuditService(ledger *stores.LedgerStore, board *stores.LeaderboardStore, log *zap.Logger) *AuditService {
	return &AuditService{ledger: ledger, board: board, log: log.Named("audit")}
}

// Audit lists users whose scores disagree with the ledger, including users
// present in only one of the two.
func (a *AuditService) Audit(ctx context.Context) (AuditReport, error) {
	totals, err := a.ledger.Totals(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	scores, err := a.board.Scores(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{Drift: []Drift{}}
	seen := make(map[string]bool, len(totals))
	for _, t := range totals {
		seen[t.UserID] = true
		if score := scores[t.UserID]; score != float64(t.Points) {
			report.Drift = append(report.Drift, Drift{UserID: t.UserID, Ledger: t.Points, Board: score})
		}
	}
	report.Users = len(seen)
	for user, score := range scores {
		if !seen[user] {
			report.Users++
			report.Drift = append(report.Drift, Drift{UserID: user, Board: score})
		}
	}
	sort.Slice(report.Drift, func(i, j int) bool { return report.Drift[i].UserID < report.Drift[j].UserID })

	metrics.SetDriftUsers(len(report.Drift))
	return report, nil
}

// Rebuild replaces the leaderboard with the ledger totals. Each user's
// tie-break instant becomes the time their latest ledger entry was written.
func (a *AuditService) Rebuild(ctx context.Context) (int, error) {
	totals, err := a.ledger.Totals(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.board.Reset(ctx); err != nil {
		return 0, err
	}
	for _, t := range totals {
		if err := a.board.Set(ctx, t.UserID, float64(t.Points), t.LastEntry.CreatedAt); err != nil {
			return 0, fmt.Errorf("rebuild %s: %w", t.UserID, err)
		}
	}
	a.log.Info("leaderboard rebuilt from ledger", zap.Int("users", len(totals)))
	return len(totals), nil
}

// Start runs Audit on schedule (standard cron syntax or descriptors like "@every 10m").
func (a *AuditService) Start(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		report, err := a.Audit(ctx)
		if err != nil {
			a.log.Warn("ledger audit failed", zap.Error(err))
			return
		}
		if len(report.Drift) > 0 {
			a.log.Warn("leaderboard diverges from ledger",
				zap.Int("users", report.Users), zap.Int("drifting", len(report.Drift)), zap.Any("drift", report.Drift))
			return
		}
		a.log.Debug("ledger audit clean", zap.Int("users", report.Users))
	})
	if err != nil {
		return fmt.Errorf("schedule audit %q: %w", schedule, err)
	}
	a.cron = c
	c.Start()
	return nil
}

// Stop halts the schedule and waits for a running audit to finish.
func (a *AuditService) Stop(ctx context.Context) error {
	if a.cron == nil {
		return nil
	}
	select {
	case <-a.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
