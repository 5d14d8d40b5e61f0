package stores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/bbspoints/config"
	"github.com/cppla/bbspoints/models"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenDatabase(config.AppConfig{DBDriver: "sqlite", DatabaseURI: ":memory:", LogLevel: "silent"},
		&models.LedgerEntry{}, &models.EntityLikeCount{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = config.CloseDatabase(db) })
	return db
}

func TestEngagementAddRemoveIsIdempotent(t *testing.T) {
	mr, rc := newTestRedis(t)
	s := NewEngagementStore(rc)
	ctx := context.Background()

	added, err := s.Add(ctx, "post", "p1", "u1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(ctx, "post", "p1", "u1")
	require.NoError(t, err)
	assert.False(t, added)

	n, err := s.RefreshCount(ctx, "post", "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "1", mr.HGet(CountKey("post"), "p1"))

	member, err := s.IsMember(ctx, "post", "p1", "u1")
	require.NoError(t, err)
	assert.True(t, member)

	removed, err := s.Remove(ctx, "post", "p1", "u1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.Remove(ctx, "post", "p1", "u1")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err = s.RefreshCount(ctx, "post", "p1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEngagementCounts(t *testing.T) {
	_, rc := newTestRedis(t)
	s := NewEngagementStore(rc)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		_, err := s.Add(ctx, "reply", "r1", u)
		require.NoError(t, err)
	}
	_, err := s.RefreshCount(ctx, "reply", "r1")
	require.NoError(t, err)

	counts, err := s.Counts(ctx, "reply", []string{"r1", "r2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"r1": 3}, counts)

	empty, err := s.Counts(ctx, "reply", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEngagementStoreErrorsSurface(t *testing.T) {
	mr, rc := newTestRedis(t)
	s := NewEngagementStore(rc)
	mr.Close()

	_, err := s.Add(context.Background(), "post", "p1", "u1")
	assert.Error(t, err)
}

func TestCheckinMark(t *testing.T) {
	mr, rc := newTestRedis(t)
	s := NewCheckinStore(rc)
	day := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Mark(context.Background(), "u1", day))
	require.NoError(t, s.Mark(context.Background(), "u1", day))

	assert.Equal(t, "checkin:u1:202403", CheckinKey("u1", day))
	// bit 4 of the first byte, counted from the most significant bit
	raw, err := mr.Get(CheckinKey("u1", day))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08}, []byte(raw))
}

func TestLeaderboardOrderingAndTies(t *testing.T) {
	_, rc := newTestRedis(t)
	s := NewLeaderboardStore(rc)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	_, err := s.Incr(ctx, "carol", 5, base)
	require.NoError(t, err)
	_, err = s.Incr(ctx, "bob", 5, base.Add(time.Second))
	require.NoError(t, err)
	_, err = s.Incr(ctx, "alice", 3, base.Add(2*time.Second))
	require.NoError(t, err)
	total, err := s.Incr(ctx, "alice", 2, base.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5.0, total)
	_, err = s.Incr(ctx, "dave", 9, base.Add(4*time.Second))
	require.NoError(t, err)

	board, err := s.Board(ctx)
	require.NoError(t, err)
	require.Len(t, board, 4)

	var order []string
	for i, e := range board {
		assert.EqualValues(t, i+1, e.Rank)
		order = append(order, e.UserID)
		if i > 0 {
			assert.GreaterOrEqual(t, board[i-1].Score, e.Score)
		}
	}
	assert.Equal(t, []string{"dave", "carol", "bob", "alice"}, order)

	for _, e := range board {
		rank, ok, err := s.Rank(ctx, e.UserID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, e.Rank, rank, e.UserID)
	}

	_, ok, err := s.Rank(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.Score(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaderboardTiesWithoutReachedFallBackToUserID(t *testing.T) {
	mr, rc := newTestRedis(t)
	s := NewLeaderboardStore(rc)
	ctx := context.Background()

	_, err := mr.ZAdd(BoardKey, 4, "zed")
	require.NoError(t, err)
	_, err = mr.ZAdd(BoardKey, 4, "amy")
	require.NoError(t, err)

	board, err := s.Board(ctx)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "amy", board[0].UserID)

	rank, _, err := s.Rank(ctx, "zed")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rank)
}

func TestLeaderboardSetScoresReset(t *testing.T) {
	_, rc := newTestRedis(t)
	s := NewLeaderboardStore(rc)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "u1", 12, time.Now()))
	require.NoError(t, s.Set(ctx, "u2", 3, time.Now()))
	scores, err := s.Scores(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"u1": 12, "u2": 3}, scores)

	require.NoError(t, s.Reset(ctx))
	scores, err = s.Scores(ctx)
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestDedupClaimRelease(t *testing.T) {
	mr, rc := newTestRedis(t)
	s := NewDedupStore(rc, time.Hour)
	ctx := context.Background()

	ok, err := s.Claim(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Claim(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Hour, mr.TTL(DedupKey("tok")))

	require.NoError(t, s.Release(ctx, "tok"))
	ok, err = s.Claim(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Hour)
	ok, err = s.Claim(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLedgerAppendAndTotals(t *testing.T) {
	db := newTestDB(t)
	s := NewLedgerStore(db)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, e := range []models.LedgerEntry{
		{UserID: "u1", Points: 2, SourceType: "like", Category: 1},
		{UserID: "u2", Points: 1, SourceType: "checkin", Category: 4},
		{UserID: "u1", Points: 11, SourceType: "checkin", Category: 4},
	} {
		e.EventID = fmt.Sprintf("e%d", i)
		e.OccurredAt = at.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Append(ctx, &e))
		assert.NotZero(t, e.ID)
	}

	entries, err := s.Entries(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 11, entries[0].Points)
	assert.Equal(t, 2, entries[1].Points)

	latest, err := s.Entries(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "e2", latest[0].EventID)

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	got := map[string]int64{}
	for _, tot := range totals {
		got[tot.UserID] = tot.Points
		if tot.UserID == "u1" {
			assert.Equal(t, "e2", tot.LastEntry.EventID)
		}
	}
	assert.Equal(t, map[string]int64{"u1": 13, "u2": 1}, got)
}

func TestLikeCountApplyFloorsAtZero(t *testing.T) {
	db := newTestDB(t)
	s := NewLikeCountStore(db)
	ctx := context.Background()

	require.NoError(t, s.Apply(ctx, "post", "p1", 1))
	require.NoError(t, s.Apply(ctx, "post", "p1", 1))
	counts, err := s.Counts(ctx, "post", []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p1": 2}, counts)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Apply(ctx, "post", "p1", -1))
	}
	require.NoError(t, s.Apply(ctx, "post", "fresh", -1))

	counts, err = s.Counts(ctx, "post", []string{"p1", "fresh", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p1": 0, "fresh": 0}, counts)

	counts, err = s.Counts(ctx, "reply", []string{"p1"})
	require.NoError(t, err)
	assert.Empty(t, counts)
}
