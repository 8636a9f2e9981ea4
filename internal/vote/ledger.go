package vote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/roniherschmann/go-pollguard/internal/store"
)

const voteLogKey = "vote_log"

func tallyKey(candidateID string) string { return "votes:" + candidateID }

func recordKey(visitorID string) string { return "voter:" + visitorID }

// LogEntry is one line of the capped audit log. Never read for decisions.
type LogEntry struct {
	ID                  string `json:"id"`
	CandidateID         string `json:"candidateId"`
	PreviousCandidateID string `json:"previousCandidateId,omitempty"`
	IPHash              string `json:"ip"`
	Timestamp           int64  `json:"timestamp"`
	IsUpdate            bool   `json:"isUpdate"`
}

type Tally struct {
	CandidateID string `json:"candidateId"`
	Votes       int64  `json:"votes"`
}

type Results struct {
	Results    []Tally `json:"results"`
	TotalVotes int64   `json:"totalVotes"`
}

// Ledger owns the per-candidate tallies, the voter records and the audit
// log. Tallies move only through Credit, so a change shifts one unit
// between candidates and never alters the total.
type Ledger struct {
	store      store.Store
	candidates Candidates
	logCap     int
}

func NewLedger(s store.Store, c Candidates, logCap int) *Ledger {
	return &Ledger{store: s, candidates: c, logCap: logCap}
}

// Previous returns the candidate currently credited to visitorID.
func (l *Ledger) Previous(ctx context.Context, visitorID string) (string, bool, error) {
	if visitorID == "" {
		return "", false, nil
	}
	v, err := l.store.Get(ctx, recordKey(visitorID))
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("voter record lookup: %w", err)
	}
	return v, true, nil
}

// Credit queues +1 for candidateID and, on a change, -1 for previous.
func (l *Ledger) Credit(b *store.Batch, candidateID, previous string) {
	b.Incr(tallyKey(candidateID))
	if previous != "" && previous != candidateID {
		b.Decr(tallyKey(previous))
	}
}

// Remember queues the upsert of the voter record.
func (l *Ledger) Remember(b *store.Batch, visitorID, candidateID string) {
	if visitorID == "" {
		return
	}
	b.Set(recordKey(visitorID), candidateID, 0)
}

func (l *Ledger) Append(b *store.Batch, e LogEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b.PushCapped(voteLogKey, string(raw), l.logCap)
	return nil
}

// Recent returns up to n audit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, n int) ([]LogEntry, error) {
	raw, err := l.store.Range(ctx, voteLogKey, n)
	if err != nil {
		return nil, err
	}
	out := make([]LogEntry, 0, len(raw))
	for _, r := range raw {
		var e LogEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Results reads every tally in one round trip, sorted by votes descending.
// Ties keep the configured candidate order.
func (l *Ledger) Results(ctx context.Context) (Results, error) {
	ids := l.candidates.IDs()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = tallyKey(id)
	}
	counts, err := l.store.Counters(ctx, keys)
	if err != nil {
		return Results{}, err
	}
	res := Results{Results: make([]Tally, len(ids))}
	for i, id := range ids {
		res.Results[i] = Tally{CandidateID: id, Votes: counts[i]}
		res.TotalVotes += counts[i]
	}
	sort.SliceStable(res.Results, func(i, j int) bool {
		return res.Results[i].Votes > res.Results[j].Votes
	})
	return res, nil
}
