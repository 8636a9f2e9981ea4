package vote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/roniherschmann/go-pollguard/internal/identity"
	"github.com/roniherschmann/go-pollguard/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testCandidates = NewCandidates("lf", "ar", "cd", "nd", "arr", "fa", "jch", "jab", "nulo", "indeciso")

func testOptions() Options {
	return Options{
		GlobalCap:      10,
		GlobalWindow:   time.Minute,
		AddressLockTTL: 24 * time.Hour,
		LogCap:         1000,
		TestModeSecret: "letmein",
		StoreTimeout:   time.Second,
	}
}

func setupService(t *testing.T, opts Options) (*Service, *testClock) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, store.Migrate(db))

	clock := &testClock{now: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)}
	s := store.NewSQLite(db, store.WithClock(clock.Now))
	t.Cleanup(func() { s.Close() })

	svc := NewService(s, testCandidates, opts)
	svc.now = clock.Now
	return svc, clock
}

// voter returns evidence for the n-th distinct device on its own connection.
func voter(n int) identity.Evidence {
	return identity.Evidence{
		Fingerprint:  fmt.Sprintf("%032x%032x", n+1, 0),
		VisitorID:    fmt.Sprintf("visitor-%d", n),
		ScreenRes:    fmt.Sprintf("%dx1080", 1000+n),
		Timezone:     "America/Costa_Rica",
		UserAgent:    fmt.Sprintf("Mozilla/5.0 test-agent/%d", n),
		ForwardedFor: fmt.Sprintf("198.51.100.%d", n+1),
	}
}

func tallies(t *testing.T, svc *Service) map[string]int64 {
	t.Helper()
	res, err := svc.Results(context.Background())
	require.NoError(t, err)
	out := make(map[string]int64, len(res.Results))
	var sum int64
	for _, r := range res.Results {
		out[r.CandidateID] = r.Votes
		sum += r.Votes
	}
	require.Equal(t, sum, res.TotalVotes)
	return out
}

func TestSubmitNewVote(t *testing.T) {
	svc, _ := setupService(t, testOptions())
	ctx := context.Background()

	r, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(0)})
	require.NoError(t, err)
	require.Equal(t, AcceptNew, r.Outcome)
	require.False(t, r.Updated)
	require.Equal(t, int64(1), tallies(t, svc)["lf"])

	entries, err := svc.Ledger().Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "lf", entries[0].CandidateID)
	require.False(t, entries[0].IsUpdate)
	require.NotEmpty(t, entries[0].ID)
}

func TestSubmitIsIdempotent(t *testing.T) {
	svc, _ := setupService(t, testOptions())
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: voter(0)})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r, err := svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: voter(0)})
		require.NoError(t, err)
		require.Equal(t, AcceptRepeat, r.Outcome)
		require.False(t, r.Updated)
	}
	got := tallies(t, svc)
	require.Equal(t, int64(1), got["ar"])

	entries, err := svc.Ledger().Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1, "repeat submissions must not write")
}

func TestSubmitVoteChange(t *testing.T) {
	svc, _ := setupService(t, testOptions())
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(0)})
	require.NoError(t, err)
	require.Equal(t, int64(1), tallies(t, svc)["lf"])

	// the change arrives from another connection; the address lock and
	// dedup set must not block a known voter
	ev := voter(0)
	ev.ForwardedFor = "203.0.113.99"
	r, err := svc.Submit(ctx, Submission{CandidateID: "cd", Evidence: ev})
	require.NoError(t, err)
	require.Equal(t, AcceptChange, r.Outcome)
	require.True(t, r.Updated)
	require.Equal(t, "lf", r.Previous)

	got := tallies(t, svc)
	require.Equal(t, int64(0), got["lf"])
	require.Equal(t, int64(1), got["cd"])

	entries, err := svc.Ledger().Recent(ctx, 10)
	require.NoError(t, err)
	require.True(t, entries[0].IsUpdate)
	require.Equal(t, "lf", entries[0].PreviousCandidateID)
}

func TestSubmitConservation(t *testing.T) {
	svc, _ := setupService(t, Options{GlobalCap: 0, GlobalWindow: time.Minute, AddressLockTTL: 24 * time.Hour, LogCap: 5})
	ctx := context.Background()

	ids := testCandidates.IDs()
	newVotes := 0
	for i := 0; i < 8; i++ {
		_, err := svc.Submit(ctx, Submission{CandidateID: ids[i%len(ids)], Evidence: voter(i)})
		require.NoError(t, err)
		newVotes++
	}
	for i := 0; i < 8; i++ {
		_, err := svc.Submit(ctx, Submission{CandidateID: ids[(i+3)%len(ids)], Evidence: voter(i)})
		require.NoError(t, err)
	}

	res, err := svc.Results(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(newVotes), res.TotalVotes)
	for _, r := range res.Results {
		require.GreaterOrEqual(t, r.Votes, int64(0))
	}

	entries, err := svc.Ledger().Recent(ctx, 100)
	require.NoError(t, err)
	require.Len(t, entries, 5, "audit log is capped")
}

func TestSubmitRejectsReusedIdentifier(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(ev *identity.Evidence)
	}{
		{"same fingerprint", func(ev *identity.Evidence) { ev.Fingerprint = voter(0).Fingerprint }},
		{"same user agent", func(ev *identity.Evidence) { ev.UserAgent = voter(0).UserAgent }},
		{"same device", func(ev *identity.Evidence) {
			ev.ScreenRes, ev.Timezone = voter(0).ScreenRes, voter(0).Timezone
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := setupService(t, testOptions())
			ctx := context.Background()

			_, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(0)})
			require.NoError(t, err)

			ev := voter(1)
			tt.mutate(&ev)
			r, err := svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: ev})
			require.ErrorIs(t, err, ErrDuplicateVote)
			require.Equal(t, KindDuplicateVote, KindOf(err))
			require.Equal(t, RejectDuplicate, r.Outcome)

			got := tallies(t, svc)
			require.Equal(t, int64(1), got["lf"])
			require.Equal(t, int64(0), got["ar"])

			// the rejection wrote nothing, so the untouched device still votes
			r, err = svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: voter(1)})
			require.NoError(t, err)
			require.Equal(t, AcceptNew, r.Outcome)
		})
	}
}

func TestVoterFixtureIsDistinct(t *testing.T) {
	seen := map[string]bool{}
	for n := 0; n < 16; n++ {
		for _, id := range identity.Resolve(voter(n)).All() {
			require.False(t, seen[id], "identifier %s shared between voters", id)
			seen[id] = true
		}
	}
}

func TestSubmitAddressLock(t *testing.T) {
	svc, clock := setupService(t, testOptions())
	ctx := context.Background()

	_, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(0)})
	require.NoError(t, err)

	ev := voter(1)
	ev.ForwardedFor = voter(0).ForwardedFor
	_, err = svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: ev})
	require.ErrorIs(t, err, ErrAddressLocked)
	require.Equal(t, KindDuplicateVote, KindOf(err))

	clock.Advance(24*time.Hour + time.Second)
	r, err := svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: ev})
	require.NoError(t, err)
	require.Equal(t, AcceptNew, r.Outcome)
}

func TestSubmitGlobalCap(t *testing.T) {
	opts := testOptions()
	opts.GlobalCap = 3
	svc, clock := setupService(t, opts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(i)})
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(3)})
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, KindRateLimited, KindOf(err))

	// vote changes still count against the cap
	_, err = svc.Submit(ctx, Submission{CandidateID: "ar", Evidence: voter(0)})
	require.ErrorIs(t, err, ErrRateLimited)

	// the rejected submission did not consume the window
	clock.Advance(61 * time.Second)
	r, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: voter(3)})
	require.NoError(t, err)
	require.Equal(t, AcceptNew, r.Outcome)
	require.Equal(t, int64(4), tallies(t, svc)["lf"])
}

func TestSubmitTestModeBypass(t *testing.T) {
	opts := testOptions()
	opts.GlobalCap = 2
	svc, _ := setupService(t, opts)
	ctx := context.Background()

	ev := voter(0)
	ev.VisitorID = ""
	_, err := svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: ev, TestToken: "letmein"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: ev, TestToken: "letmein"})
	require.NoError(t, err)

	// still bound by the global cap and candidate validation
	_, err = svc.Submit(ctx, Submission{CandidateID: "lf", Evidence: ev, TestToken: "letmein"})
	require.ErrorIs(t, err, ErrRateLimited)
	_, err = svc.Submit(ctx, Submission{CandidateID: "xx", Evidence: ev, TestToken: "letmein"})
	require.ErrorIs(t, err, ErrInvalidCandidate)

	// a wrong token gets no bypass
	svc2, _ := setupService(t, testOptions())
	_, err = svc2.Submit(ctx, Submission{CandidateID: "lf", Evidence: ev})
	require.NoError(t, err)
	_, err = svc2.Submit(ctx, Submission{CandidateID: "lf", Evidence: ev, TestToken: "nope"})
	require.Error(t, err)
	require.Equal(t, KindDuplicateVote, KindOf(err))
}

// panicStore fails the test on any access.
type panicStore struct{ t *testing.T }

func (p panicStore) touched() { p.t.Fatal("store must not be accessed") }
func (p panicStore) Get(context.Context, string) (string, error) {
	p.touched()
	return "", nil
}
func (p panicStore) Counters(context.Context, []string) ([]int64, error) {
	p.touched()
	return nil, nil
}
func (p panicStore) IsMember(context.Context, string, string) (bool, error) {
	p.touched()
	return false, nil
}
func (p panicStore) Range(context.Context, string, int) ([]string, error) {
	p.touched()
	return nil, nil
}
func (p panicStore) Exec(context.Context, *store.Batch) error {
	p.touched()
	return nil
}
func (p panicStore) Ping(context.Context) error { return nil }
func (p panicStore) Close() error               { return nil }

func TestSubmitUnknownCandidateSkipsStore(t *testing.T) {
	svc := NewService(panicStore{t}, testCandidates, testOptions())
	r, err := svc.Submit(context.Background(), Submission{CandidateID: "xx", Evidence: voter(0)})
	require.ErrorIs(t, err, ErrInvalidCandidate)
	require.Equal(t, RejectInvalidCandidate, r.Outcome)
}

// failingStore answers reads and fails every batch.
type failingStore struct {
	store.Store
	execErr error
}

func (f failingStore) Exec(context.Context, *store.Batch) error { return f.execErr }

func TestSubmitStorageFailureIsOpaque(t *testing.T) {
	svc, _ := setupService(t, testOptions())
	cause := errors.New("dial tcp 10.0.0.5:6379: i/o timeout")
	failing := NewService(failingStore{Store: svc.store, execErr: cause}, testCandidates, testOptions())

	_, err := failing.Submit(context.Background(), Submission{CandidateID: "lf", Evidence: voter(0)})
	require.ErrorIs(t, err, ErrStorageUnavailable)
	require.ErrorIs(t, err, cause)

	var re *RejectError
	require.True(t, errors.As(err, &re))
	require.Equal(t, "failed to submit vote", re.Message)
	require.Equal(t, int64(0), tallies(t, svc)["lf"])
}

func TestResultsSorted(t *testing.T) {
	svc, _ := setupService(t, testOptions())
	ctx := context.Background()

	for i, c := range []string{"fa", "fa", "jab"} {
		_, err := svc.Submit(ctx, Submission{CandidateID: c, Evidence: voter(i)})
		require.NoError(t, err)
	}
	res, err := svc.Results(ctx)
	require.NoError(t, err)
	require.Len(t, res.Results, testCandidates.Len())
	require.Equal(t, "fa", res.Results[0].CandidateID)
	require.Equal(t, "jab", res.Results[1].CandidateID)
	// zero-vote candidates keep configured order
	require.Equal(t, "lf", res.Results[2].CandidateID)
	require.Equal(t, int64(3), res.TotalVotes)
}
