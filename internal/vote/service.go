package vote

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pollguard/internal/identity"
	"github.com/roniherschmann/go-pollguard/internal/metrics"
	"github.com/roniherschmann/go-pollguard/internal/store"
)

type Options struct {
	GlobalCap      int
	GlobalWindow   time.Duration
	AddressLockTTL time.Duration
	LogCap         int
	TestModeSecret string
	StoreTimeout   time.Duration
}

type Submission struct {
	CandidateID string
	Evidence    identity.Evidence
	TestToken   string
}

type Receipt struct {
	Outcome  Outcome
	Updated  bool
	Previous string
}

// Service sequences identity resolution, the throttles, the dedup ledger
// and the vote ledger into one decision, then commits it as one batch.
// It keeps no state of its own between calls.
type Service struct {
	store      store.Store
	candidates Candidates
	ledger     *Ledger
	dedup      *DedupLedger
	limiter    *RateLimiter
	opts       Options
	now        func() time.Time
}

func NewService(s store.Store, c Candidates, opts Options) *Service {
	return &Service{
		store:      s,
		candidates: c,
		ledger:     NewLedger(s, c, opts.LogCap),
		dedup:      NewDedupLedger(s),
		limiter:    NewRateLimiter(s, opts.GlobalCap, opts.GlobalWindow, opts.AddressLockTTL),
		opts:       opts,
		now:        time.Now,
	}
}

func (s *Service) Candidates() Candidates {
	return s.candidates
}

func (s *Service) Ledger() *Ledger {
	return s.ledger
}

func (s *Service) testMode(token string) bool {
	if s.opts.TestModeSecret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.TestModeSecret)) == 1
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

// Submit decides and, when accepted, commits one vote. Rejections are
// returned as *RejectError; storage faults are logged here and surface as
// ErrStorageUnavailable.
func (s *Service) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	facts := Facts{
		ValidCandidate: s.candidates.Valid(sub.CandidateID),
		Requested:      sub.CandidateID,
		Bypass:         s.testMode(sub.TestToken),
	}
	if !facts.ValidCandidate {
		return s.reject(Decide(facts))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids := identity.Resolve(sub.Evidence)
	if err := s.gather(ctx, ids, &facts); err != nil {
		return Receipt{}, s.fail("gather", err)
	}

	outcome := Decide(facts)
	if !outcome.Accepted() {
		return s.reject(outcome)
	}
	receipt := Receipt{Outcome: outcome, Updated: outcome == AcceptChange, Previous: facts.Previous}
	if outcome == AcceptRepeat {
		metrics.VotesAccepted.WithLabelValues(outcome.String()).Inc()
		return receipt, nil
	}

	b, err := s.commitBatch(outcome, sub.CandidateID, ids, facts)
	if err != nil {
		return Receipt{}, s.fail("build batch", err)
	}
	if err := s.store.Exec(ctx, b); err != nil {
		return Receipt{}, s.fail("commit", err)
	}

	metrics.VotesAccepted.WithLabelValues(outcome.String()).Inc()
	log.Info().
		Str("candidate", sub.CandidateID).
		Str("previous", facts.Previous).
		Str("outcome", outcome.String()).
		Bool("test_mode", facts.Bypass).
		Msg("vote recorded")
	return receipt, nil
}

// gather reads only the facts the decision can still depend on.
func (s *Service) gather(ctx context.Context, ids identity.Set, f *Facts) error {
	prev, ok, err := s.ledger.Previous(ctx, ids.Visitor)
	if err != nil {
		return err
	}
	f.HasRecord, f.Previous = ok, prev
	if f.HasRecord && f.Previous == f.Requested {
		return nil
	}

	if !f.HasRecord && !f.Bypass {
		if f.AddressLocked, err = s.limiter.AddressLocked(ctx, ids.Address); err != nil {
			return err
		}
		if f.AddressLocked {
			return nil
		}
		var hit string
		if hit, f.Duplicate, err = s.dedup.Duplicate(ctx, ids); err != nil {
			return err
		}
		if f.Duplicate {
			log.Debug().Str("identifier", hit).Msg("identifier already voted")
			return nil
		}
	}

	f.AtCap, err = s.limiter.AtCap(ctx)
	return err
}

func (s *Service) commitBatch(outcome Outcome, candidateID string, ids identity.Set, f Facts) (*store.Batch, error) {
	b := store.NewBatch()
	prev := ""
	if outcome == AcceptChange {
		prev = f.Previous
	}
	s.ledger.Credit(b, candidateID, prev)
	s.ledger.Remember(b, ids.Visitor, candidateID)
	if outcome == AcceptNew && !f.Bypass {
		s.limiter.Lock(b, ids.Address)
		s.dedup.Record(b, ids)
	}
	s.limiter.Consume(b)
	err := s.ledger.Append(b, LogEntry{
		ID:                  uuid.NewString(),
		CandidateID:         candidateID,
		PreviousCandidateID: prev,
		IPHash:              strings.TrimPrefix(ids.Address, "ip:"),
		Timestamp:           s.now().UnixMilli(),
		IsUpdate:            outcome == AcceptChange,
	})
	return b, err
}

func (s *Service) reject(o Outcome) (Receipt, error) {
	metrics.VotesRejected.WithLabelValues(o.String()).Inc()
	return Receipt{Outcome: o}, o.Err()
}

func (s *Service) fail(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	metrics.VotesRejected.WithLabelValues(KindStorageUnavailable.String()).Inc()
	log.Error().Err(err).Str("op", op).Msg("vote submission failed")
	return storageFailure(err)
}

func (s *Service) Results(ctx context.Context) (Results, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.ledger.Results(ctx)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("results").Inc()
		log.Error().Err(err).Msg("read results")
		return Results{}, storageFailure(err)
	}
	metrics.ResultsRequests.Inc()
	return res, nil
}

// Ready reports whether the backing store answers.
func (s *Service) Ready(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.store.Ping(ctx)
}
