package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
)

// LikeCountApplier moves a durable like count. Implemented by *stores.LikeCountStore.
type LikeCountApplier interface {
	Apply(ctx context.Context, entityType, entityID string, delta int64) error
}

// CountMaterializer keeps durable like counts in step with like-changed events.
type CountMaterializer struct {
	counts LikeCountApplier
	dedup  EventClaimer
	log    *zap.Logger
}

// NewCountMaterializer creates a CountMaterializer. dedup may be nil.
func NewCountMaterializer(counts LikeCountApplier, dedup EventClaimer, log *zap.Logger) *CountMaterializer {
	return &CountMaterializer{counts: counts, dedup: dedup, log: log.Named("like-counts")}
}

// Binding is the queue and keys this consumer reads.
func (m *CountMaterializer) Binding() mq.Binding {
	return mq.Binding{Queue: mq.LikeCountQueue, Keys: []string{mq.KeyLikeCountChanged}}
}

// Handle implements mq.Handler.
func (m *CountMaterializer) Handle(ctx context.Context, msg mq.Message) error {
	if msg.RoutingKey != mq.KeyLikeCountChanged {
		m.log.Warn("ignoring unknown routing key", zap.String("routing_key", msg.RoutingKey))
		return nil
	}
	var ev models.LikeChangedEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return fmt.Errorf("decode like change: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid like change: %w", err)
	}

	var token string
	if m.dedup != nil && msg.MessageID != "" {
		token = "count:" + msg.MessageID
		fresh, err := m.dedup.Claim(ctx, token)
		if err != nil {
			return mq.Requeue(err)
		}
		if !fresh {
			return nil
		}
	}

	delta := int64(1)
	if !ev.Liked {
		delta = -1
	}
	if err := m.counts.Apply(ctx, ev.EntityType, ev.EntityID, delta); err != nil {
		if token != "" {
			_ = m.dedup.Release(ctx, token)
		}
		return mq.Requeue(err)
	}
	return nil
}
