package stores

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Leaderboard keys. The reached hash stores, per user, the unix millis at
// which the current score was reached; it orders equal scores.
const (
	BoardKey   = "points:board:"
	ReachedKey = "points:board:reached"
)

// BoardEntry is one ranked leaderboard row.
type BoardEntry struct {
	Rank   int64
	UserID string
	Score  float64
}

// LeaderboardStore ranks users by cumulative points. Higher scores rank first;
// equal scores rank by who reached them earlier, then by user id.
type LeaderboardStore struct {
	rc redis.Cmdable
}

// NewLeaderboardStore creates a LeaderboardStore.
func NewLeaderboardStore(rc redis.Cmdable) *LeaderboardStore {
	return &LeaderboardStore{rc: rc}
}

// Incr adds delta to the user's score and records at as the time the new score was reached.
func (s *LeaderboardStore) Incr(ctx context.Context, userID string, delta int, at time.Time) (float64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var incr *redis.FloatCmd
	_, err := s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.ZIncrBy(ctx, BoardKey, float64(delta), userID)
		pipe.HSet(ctx, ReachedKey, userID, at.UnixMilli())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("zincrby %s: %w", userID, err)
	}
	return incr.Val(), nil
}

// Set overwrites the user's score. Used when rebuilding from the ledger.
func (s *LeaderboardStore) Set(ctx context.Context, userID string, score float64, reachedAt time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.rc.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, BoardKey, redis.Z{Score: score, Member: userID})
		pipe.HSet(ctx, ReachedKey, userID, reachedAt.UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("zadd %s: %w", userID, err)
	}
	return nil
}

// Score returns the user's score; ok is false when the user has none.
func (s *LeaderboardStore) Score(ctx context.Context, userID string) (float64, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	score, err := s.rc.ZScore(ctx, BoardKey, userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("zscore %s: %w", userID, err)
	}
	return score, true, nil
}

// Rank returns the 1-based descending rank of the user; ok is false when unranked.
func (s *LeaderboardStore) Rank(ctx context.Context, userID string) (int64, bool, error) {
	score, ok, err := s.Score(ctx, userID)
	if err != nil || !ok {
		return 0, false, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()
	bound := formatScore(score)
	higher, err := s.rc.ZCount(ctx, BoardKey, "("+bound, "+inf").Result()
	if err != nil {
		return 0, false, fmt.Errorf("zcount above %s: %w", bound, err)
	}
	ties, err := s.rc.ZRangeByScore(ctx, BoardKey, &redis.ZRangeBy{Min: bound, Max: bound}).Result()
	if err != nil {
		return 0, false, fmt.Errorf("zrangebyscore %s: %w", bound, err)
	}
	reached, err := s.reachedAt(ctx, ties)
	if err != nil {
		return 0, false, err
	}

	me := BoardEntry{UserID: userID, Score: score}
	var ahead int64
	for _, other := range ties {
		if other != userID && ranksBefore(BoardEntry{UserID: other, Score: score}, me, reached) {
			ahead++
		}
	}
	return higher + ahead + 1, true, nil
}

// Board returns every ranked user, best first.
func (s *LeaderboardStore) Board(ctx context.Context) ([]BoardEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	zs, err := s.rc.ZRevRangeWithScores(ctx, BoardKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange board: %w", err)
	}
	entries := make([]BoardEntry, 0, len(zs))
	users := make([]string, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, BoardEntry{UserID: member, Score: z.Score})
		users = append(users, member)
	}
	reached, err := s.reachedAt(ctx, users)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return ranksBefore(entries[i], entries[j], reached)
	})
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}

// Scores returns every user's score keyed by user id.
func (s *LeaderboardStore) Scores(ctx context.Context) (map[string]float64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	zs, err := s.rc.ZRangeWithScores(ctx, BoardKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange board: %w", err)
	}
	out := make(map[string]float64, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out[member] = z.Score
	}
	return out, nil
}

// Reset drops the leaderboard and its tie-break hash.
func (s *LeaderboardStore) Reset(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := s.rc.Del(ctx, BoardKey, ReachedKey).Err(); err != nil {
		return fmt.Errorf("reset board: %w", err)
	}
	return nil
}

func (s *LeaderboardStore) reachedAt(ctx context.Context, users []string) (map[string]int64, error) {
	out := make(map[string]int64, len(users))
	if len(users) == 0 {
		return out, nil
	}
	vals, err := s.rc.HMGet(ctx, ReachedKey, users...).Result()
	if err != nil {
		return nil, fmt.Errorf("hmget reached: %w", err)
	}
	for i, u := range users {
		out[u] = math.MaxInt64
		if raw, ok := vals[i].(string); ok {
			if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
				out[u] = ms
			}
		}
	}
	return out, nil
}

// ranksBefore orders by score desc, reached asc, user id asc.
func ranksBefore(a, b BoardEntry, reached map[string]int64) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ra, rb := reachedOrMax(reached, a.UserID), reachedOrMax(reached, b.UserID)
	if ra != rb {
		return ra < rb
	}
	return a.UserID < b.UserID
}

func reachedOrMax(reached map[string]int64, user string) int64 {
	if ms, ok := reached[user]; ok {
		return ms
	}
	return math.MaxInt64
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
