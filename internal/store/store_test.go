package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSQLite(t *testing.T) (*SQLite, *fakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewSQLite(db, WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// runContract exercises the behaviour every Store backend must share.
func runContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	b := NewBatch().
		Incr("votes:a").
		Incr("votes:a").
		Incr("votes:b").
		Decr("votes:b").
		Set("voter:v1", "a", 0).
		SAdd("voters", "fp:1", "ua:2").
		SAdd("voters", "fp:1")
	for i := 0; i < 5; i++ {
		b.PushCapped("log", string(rune('0'+i)), 3)
	}
	require.NoError(t, s.Exec(ctx, b))

	counts, err := s.Counters(ctx, []string{"votes:a", "votes:b", "votes:none"})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 0, 0}, counts)

	v, err := s.Get(ctx, "voter:v1")
	require.NoError(t, err)
	require.Equal(t, "a", v)

	ok, err := s.IsMember(ctx, "voters", "fp:1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.IsMember(ctx, "voters", "fp:9")
	require.NoError(t, err)
	require.False(t, ok)

	items, err := s.Range(ctx, "log", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"4", "3", "2"}, items)
	for _, n := range []int{0, -1} {
		items, err = s.Range(ctx, "log", n)
		require.NoError(t, err)
		require.Empty(t, items)
	}

	require.NoError(t, s.Ping(ctx))
}

func TestSQLiteContract(t *testing.T) {
	s, _ := newTestSQLite(t)
	runContract(t, s)
}

func TestSQLiteExpiry(t *testing.T) {
	s, clock := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Exec(ctx, NewBatch().Set("ip:abc", "1", 24*time.Hour)))
	require.NoError(t, s.Exec(ctx, NewBatch().Incr("global").Expire("global", time.Minute)))

	v, err := s.Get(ctx, "ip:abc")
	require.NoError(t, err)
	require.Equal(t, "1", v)

	clock.Advance(61 * time.Second)
	counts, err := s.Counters(ctx, []string{"global"})
	require.NoError(t, err)
	require.Equal(t, int64(0), counts[0])

	// an expired counter starts over instead of resuming
	require.NoError(t, s.Exec(ctx, NewBatch().Incr("global").Expire("global", time.Minute)))
	counts, err = s.Counters(ctx, []string{"global"})
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[0])

	clock.Advance(24 * time.Hour)
	_, err = s.Get(ctx, "ip:abc")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteExecIsAtomic(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	b := NewBatch().Incr("votes:a")
	b.ops = append(b.ops, Op{Kind: OpKind(99), Key: "bogus"})
	require.Error(t, s.Exec(ctx, b))

	counts, err := s.Counters(ctx, []string{"votes:a"})
	require.NoError(t, err)
	require.Equal(t, int64(0), counts[0])
}

func TestBatchSkipsEmptySAdd(t *testing.T) {
	b := NewBatch().SAdd("voters")
	require.Equal(t, 0, b.Len())
}
