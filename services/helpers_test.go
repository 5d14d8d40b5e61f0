package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/cppla/bbspoints/config"
	"github.com/cppla/bbspoints/models"
	"github.com/cppla/bbspoints/mq"
	"github.com/cppla/bbspoints/stores"
)

var errStoreDown = errors.New("store down")

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

type published struct {
	key     string
	id      string
	payload any
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, key string, payload any, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{key: key, id: id, payload: payload})
	return nil
}

func (p *fakePublisher) byKey(key string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.key == key {
			out = append(out, m)
		}
	}
	return out
}

// deliver feeds everything published so far to h, as the broker would.
func (p *fakePublisher) deliver(t *testing.T, h mq.Handler) {
	t.Helper()
	p.mu.Lock()
	msgs := append([]published(nil), p.msgs...)
	p.mu.Unlock()
	for _, m := range msgs {
		body, err := json.Marshal(m.payload)
		require.NoError(t, err)
		require.NoError(t, h.Handle(context.Background(), mq.Message{RoutingKey: m.key, MessageID: m.id, Body: body}))
	}
}

// memBitmap mimics the Redis check-in bitmap in memory.
type memBitmap struct {
	bits map[string]map[int]bool
	err  error
}

func newMemBitmap() *memBitmap { return &memBitmap{bits: map[string]map[int]bool{}} }

func (m *memBitmap) Mark(_ context.Context, userID string, day time.Time) error {
	if m.err != nil {
		return m.err
	}
	key := stores.CheckinKey(userID, day)
	if m.bits[key] == nil {
		m.bits[key] = map[int]bool{}
	}
	m.bits[key][day.Day()] = true
	return nil
}

func (m *memBitmap) MonthPrefix(_ context.Context, userID string, day time.Time) (uint64, error) {
	if m.err != nil {
		return 0, m.err
	}
	var v uint64
	month := m.bits[stores.CheckinKey(userID, day)]
	for d := 1; d <= day.Day(); d++ {
		v <<= 1
		if month[d] {
			v |= 1
		}
	}
	return v, nil
}

func (m *memBitmap) set(userID string, year int, month time.Month, days ...int) {
	for _, d := range days {
		_ = m.Mark(context.Background(), userID, time.Date(year, month, d, 12, 0, 0, 0, time.UTC))
	}
}

type failingLedger struct{ err error }

func (f failingLedger) Append(context.Context, *models.LedgerEntry) error { return f.err }

type failingBoard struct{ err error }

func (f failingBoard) Incr(context.Context, string, int, time.Time) (float64, error) { return 0, f.err }

type failingDedup struct{ err error }

func (f failingDedup) Claim(context.Context, string) (bool, error) { return false, f.err }
func (f failingDedup) Release(context.Context, string) error       { return f.err }
