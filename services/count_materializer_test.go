package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
	"github.com/cppla/bbspoints/stores"
)

func changeMessage(t *testing.T, id string, ev models.LikeChangedEvent) mq.Message {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return mq.Message{RoutingKey: mq.KeyLikeCountChanged, MessageID: id, Body: body}
}

func TestCountMaterializerFollowsToggles(t *testing.T) {
	_, rc := newTestRedis(t)
	counts := stores.NewLikeCountStore(newTestDB(t))
	m := NewCountMaterializer(counts, stores.NewDedupStore(rc, time.Hour), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, m.Handle(ctx, changeMessage(t, "a", models.LikeChangedEvent{EntityType: "post", EntityID: "p1", UserID: "u1", Liked: true})))
	require.NoError(t, m.Handle(ctx, changeMessage(t, "b", models.LikeChangedEvent{EntityType: "post", EntityID: "p1", UserID: "u2", Liked: true})))
	// redelivery of "b" is ignored
	require.NoError(t, m.Handle(ctx, changeMessage(t, "b", models.LikeChangedEvent{EntityType: "post", EntityID: "p1", UserID: "u2", Liked: true})))
	require.NoError(t, m.Handle(ctx, changeMessage(t, "c", models.LikeChangedEvent{EntityType: "post", EntityID: "p1", UserID: "u1", Liked: false})))

	stored, err := counts.Counts(ctx, "post", []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p1": 1}, stored)
}

func TestCountMaterializerEndToEnd(t *testing.T) {
	svc, pub := newLikeService(t)
	counts := stores.NewLikeCountStore(newTestDB(t))
	m := NewCountMaterializer(counts, nil, zap.NewNop())
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := svc.ToggleLike(ctx, "reply", "r1", u, true)
		require.NoError(t, err)
	}
	_, err := svc.ToggleLike(ctx, "reply", "r1", "u2", false)
	require.NoError(t, err)

	// point events are not this consumer's business and are acked untouched
	pub.deliver(t, m)

	stored, err := counts.Counts(ctx, "reply", []string{"r1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"r1": 2}, stored)
}

func TestCountMaterializerErrors(t *testing.T) {
	counts := stores.NewLikeCountStore(newTestDB(t))
	m := NewCountMaterializer(counts, nil, zap.NewNop())
	ctx := context.Background()

	err := m.Handle(ctx, mq.Message{RoutingKey: mq.KeyLikeCountChanged, Body: []byte("[")})
	require.Error(t, err)
	assert.False(t, mq.IsRequeue(err))

	err = m.Handle(ctx, changeMessage(t, "x", models.LikeChangedEvent{EntityID: "p1", UserID: "u1"}))
	require.Error(t, err)
	assert.False(t, mq.IsRequeue(err))

	dedupDown := NewCountMaterializer(counts, failingDedup{err: errStoreDown}, zap.NewNop())
	err = dedupDown.Handle(ctx, changeMessage(t, "y", models.LikeChangedEvent{EntityType: "post", EntityID: "p1", UserID: "u1", Liked: true}))
	assert.True(t, mq.IsRequeue(err))
}
