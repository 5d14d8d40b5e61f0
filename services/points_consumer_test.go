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

type pointsFixture struct {
	consumer *PointsConsumer
	ledger   *stores.LedgerStore
	board    *stores.LeaderboardStore
	dedup    *stores.DedupStore
}

func newPointsFixture(t *testing.T) pointsFixture {
	t.Helper()
	_, rc := newTestRedis(t)
	f := pointsFixture{
		ledger: stores.NewLedgerStore(newTestDB(t)),
		board:  stores.NewLeaderboardStore(rc),
		dedup:  stores.NewDedupStore(rc, time.Hour),
	}
	f.consumer = NewPointsConsumer(f.ledger, f.board, f.dedup, zap.NewNop())
	return f
}

func pointMessage(t *testing.T, key string, ev models.PointEvent) mq.Message {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return mq.Message{RoutingKey: key, MessageID: ev.EventID, Body: body}
}

func TestPointsConsumerAppliesEvent(t *testing.T) {
	f := newPointsFixture(t)
	ctx := context.Background()
	ev := models.PointEvent{EventID: "e1", UserID: "u1", Points: 5, Timestamp: 1700000000000}

	require.NoError(t, f.consumer.Handle(ctx, pointMessage(t, mq.KeyReplyPoints, ev)))

	entries, err := f.ledger.Entries(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].EventID)
	assert.Equal(t, "reply", entries[0].SourceType)
	assert.Equal(t, 2, entries[0].Category)
	assert.Equal(t, int64(1700000000000), entries[0].OccurredAt.UnixMilli())

	score, ok, err := f.board.Score(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, score)
}

func TestPointsConsumerSkipsRedelivery(t *testing.T) {
	f := newPointsFixture(t)
	ctx := context.Background()
	// no event id: the token is derived from the payload
	ev := models.PointEvent{UserID: "u1", Points: 3, Timestamp: 1700000000000}
	msg := pointMessage(t, mq.KeyPostPoints, ev)

	require.NoError(t, f.consumer.Handle(ctx, msg))
	msg.Redelivered = true
	require.NoError(t, f.consumer.Handle(ctx, msg))

	entries, err := f.ledger.Entries(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	score, _, err := f.board.Score(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, score)
}

func TestPointsConsumerRejectsBadPayloads(t *testing.T) {
	f := newPointsFixture(t)
	ctx := context.Background()

	err := f.consumer.Handle(ctx, mq.Message{RoutingKey: mq.KeyLikePoints, Body: []byte("{not json")})
	require.Error(t, err)
	assert.False(t, mq.IsRequeue(err))

	err = f.consumer.Handle(ctx, pointMessage(t, mq.KeyLikePoints, models.PointEvent{UserID: "u1", Points: 0}))
	require.Error(t, err)
	assert.False(t, mq.IsRequeue(err))

	err = f.consumer.Handle(ctx, pointMessage(t, mq.KeyLikePoints, models.PointEvent{Points: 2}))
	require.Error(t, err)
	assert.False(t, mq.IsRequeue(err))
}

func TestPointsConsumerAcksUnknownKeys(t *testing.T) {
	f := newPointsFixture(t)
	err := f.consumer.Handle(context.Background(), mq.Message{RoutingKey: "mystery.points", Body: []byte("{}")})
	assert.NoError(t, err)
}

func TestPointsConsumerRequeuesLedgerFailure(t *testing.T) {
	f := newPointsFixture(t)
	ctx := context.Background()
	consumer := NewPointsConsumer(failingLedger{err: errStoreDown}, f.board, f.dedup, zap.NewNop())
	msg := pointMessage(t, mq.KeyLikePoints, models.PointEvent{EventID: "e9", UserID: "u1", Points: 2})

	err := consumer.Handle(ctx, msg)
	require.Error(t, err)
	assert.True(t, mq.IsRequeue(err))
	assert.ErrorIs(t, err, errStoreDown)

	_, ok, err := f.board.Score(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// the claim was released, so the redelivery is applied
	require.NoError(t, f.consumer.Handle(ctx, msg))
	entries, err := f.ledger.Entries(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPointsConsumerRequeuesDedupFailure(t *testing.T) {
	f := newPointsFixture(t)
	consumer := NewPointsConsumer(f.ledger, f.board, failingDedup{err: errStoreDown}, zap.NewNop())

	err := consumer.Handle(context.Background(), pointMessage(t, mq.KeyLikePoints, models.PointEvent{EventID: "e1", UserID: "u1", Points: 2}))
	assert.True(t, mq.IsRequeue(err))
}

func TestPointsConsumerAcksLeaderboardFailure(t *testing.T) {
	f := newPointsFixture(t)
	ctx := context.Background()
	consumer := NewPointsConsumer(f.ledger, failingBoard{err: errStoreDown}, f.dedup, zap.NewNop())

	err := consumer.Handle(ctx, pointMessage(t, mq.KeyCheckinPoints, models.PointEvent{EventID: "c1", UserID: "u1", Points: 11}))
	require.NoError(t, err)

	entries, err := f.ledger.Entries(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPointsConsumerBinding(t *testing.T) {
	f := newPointsFixture(t)
	b := f.consumer.Binding()
	assert.Equal(t, mq.PointsQueue, b.Queue)
	assert.ElementsMatch(t, []string{mq.KeyLikePoints, mq.KeyReplyPoints, mq.KeyPostPoints, mq.KeyCheckinPoints}, b.Keys)
}

func TestPointsConsumerTiesRankByProcessingOrder(t *testing.T) {
	f := newPointsFixture(t)
	ctx := context.Background()
	clock := time.Unix(1700000000, 0)
	f.consumer.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	produced := time.Unix(1700000000, 0)

	// bob reaches 4 first; alice's second event carries an older producer timestamp
	for _, ev := range []models.PointEvent{
		{EventID: "a1", UserID: "alice", Points: 2, Timestamp: produced.Add(5 * time.Minute).UnixMilli()},
		{EventID: "b1", UserID: "bob", Points: 4, Timestamp: produced.Add(3 * time.Minute).UnixMilli()},
		{EventID: "a2", UserID: "alice", Points: 2, Timestamp: produced.Add(time.Minute).UnixMilli()},
	} {
		require.NoError(t, f.consumer.Handle(ctx, pointMessage(t, mq.KeyReplyPoints, ev)))
	}

	entries, err := f.board.Board(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, stores.BoardEntry{Rank: 1, UserID: "bob", Score: 4}, entries[0])
	assert.Equal(t, stores.BoardEntry{Rank: 2, UserID: "alice", Score: 4}, entries[1])

	ledger, err := f.ledger.Entries(ctx, "alice", 1)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, clock.UnixMilli(), ledger[0].CreatedAt.UnixMilli())
	assert.Equal(t, produced.Add(time.Minute).UnixMilli(), ledger[0].OccurredAt.UnixMilli())
}
