package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/bbspoints/metrics"
	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
)

var sourceByKey = map[string]models.SourceType{
	mq.KeyLikePoints:    models.SourceLike,
	mq.KeyReplyPoints:   models.SourceReply,
	mq.KeyPostPoints:    models.SourcePost,
	mq.KeyCheckinPoints: models.SourceCheckin,
}

// PointsConsumer applies point events to the ledger and the leaderboard.
type PointsConsumer struct {
	ledger LedgerAppender
	board  ScoreIncrementer
	dedup  EventClaimer
	log    *zap.Logger
	now    func() time.Time
}

// NewPointsConsumer creates a PointsConsumer.
func NewPointsConsumer(ledger LedgerAppender, board ScoreIncrementer, dedup EventClaimer, log *zap.Logger) *PointsConsumer {
	return &PointsConsumer{ledger: ledger, board: board, dedup: dedup, log: log.Named("points"), now: time.Now}
}

// Binding is the queue and keys this consumer reads.
func (c *PointsConsumer) Binding() mq.Binding {
	return mq.Binding{Queue: mq.PointsQueue, Keys: mq.PointKeys}
}

// Handle implements mq.Handler.
func (c *PointsConsumer) Handle(ctx context.Context, msg mq.Message) error {
	source, ok := sourceByKey[msg.RoutingKey]
	if !ok {
		c.log.Warn("ignoring unknown routing key", zap.String("routing_key", msg.RoutingKey))
		return nil
	}

	var ev models.PointEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return fmt.Errorf("decode point event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid point event: %w", err)
	}
	ev.SourceType = source
	if ev.EventID == "" {
		ev.EventID = msg.MessageID
	}
	token := ev.DedupToken()

	fresh, err := c.dedup.Claim(ctx, token)
	if err != nil {
		return mq.Requeue(err)
	}
	if !fresh {
		c.log.Info("skipping duplicate point event", zap.String("event_id", token), zap.String("user_id", ev.UserID))
		return nil
	}

	entry := models.LedgerEntry{
		EventID:    token,
		UserID:     ev.UserID,
		SourceType: string(source),
		Category:   source.Category(),
		Points:     ev.Points,
		OccurredAt: ev.OccurredAt(),
		CreatedAt:  c.now(),
	}
	if err := c.ledger.Append(ctx, &entry); err != nil {
		if relErr := c.dedup.Release(ctx, token); relErr != nil {
			c.log.Error("release dedup claim failed, event will be skipped on redelivery",
				zap.String("event_id", token), zap.Error(relErr))
		}
		return mq.Requeue(err)
	}

	// equal scores rank by processing order; producer timestamps can arrive late
	score, err := c.board.Incr(ctx, ev.UserID, ev.Points, entry.CreatedAt)
	if err != nil {
		// ledger keeps the entry; the drift audit reports the gap
		metrics.RecordLeaderboardDivergence()
		c.log.Error("leaderboard increment failed after ledger write",
			zap.String("event_id", token), zap.String("user_id", ev.UserID),
			zap.Int("points", ev.Points), zap.Error(err))
		return nil
	}
	c.log.Debug("points applied",
		zap.String("user_id", ev.UserID), zap.String("source", string(source)),
		zap.Int("points", ev.Points), zap.Float64("score", score))
	return nil
}
