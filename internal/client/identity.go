package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	VisitorKey = "pollguard_vid"
	VotedKey   = "pollguard_voted"

	retention = 365 * 24 * time.Hour
)

// VotedMarker is what markAsVoted leaves behind in every backend.
type VotedMarker struct {
	Voted       bool   `json:"voted"`
	CandidateID string `json:"candidateId"`
	Timestamp   int64  `json:"timestamp"`
}

// IdentityStore keeps the visitor id and voted marker redundantly across
// several backends: read from any, write to all. Backends are ordered by
// durability ascending; the durable one is written asynchronously.
type IdentityStore struct {
	backends    []Backend
	durable     Backend
	fingerprint func() string
	now         func() time.Time
	newVisitor  func(fp string, now time.Time) string

	pending sync.WaitGroup
}

func NewIdentityStore(fingerprint func() string, newVisitor func(string, time.Time) string, durable Backend, backends ...Backend) *IdentityStore {
	return &IdentityStore{
		backends:    backends,
		durable:     durable,
		fingerprint: fingerprint,
		now:         time.Now,
		newVisitor:  newVisitor,
	}
}

func (s *IdentityStore) all() []Backend {
	if s.durable == nil {
		return s.backends
	}
	return append(append([]Backend{}, s.backends...), s.durable)
}

// lookup returns the first value found for key, walking backends from least
// to most durable.
func (s *IdentityStore) lookup(ctx context.Context, key string, withDurable bool) (string, bool) {
	list := s.backends
	if withDurable {
		list = s.all()
	}
	for _, b := range list {
		v, err := b.Get(ctx, key)
		if err == nil && v != "" {
			return v, true
		}
		if err != nil && !errors.Is(err, errMissing) {
			log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("identity read failed")
		}
	}
	return "", false
}

// writeAll stores value everywhere. Failures are logged, never raised; the
// remaining backends still carry the identity.
func (s *IdentityStore) writeAll(ctx context.Context, key, value string) {
	for _, b := range s.backends {
		if err := b.Set(ctx, key, value, retention); err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("identity write failed")
		}
	}
	if s.durable == nil {
		return
	}
	s.pending.Add(1)
	go func(b Backend) {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := b.Set(ctx, key, value, retention); err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("identity write failed")
		}
	}(s.durable)
}

// VoterIdentifier returns the visitor id, creating and persisting one on
// first use. Whatever is found is rewritten to every backend.
func (s *IdentityStore) VoterIdentifier(ctx context.Context) string {
	vid, ok := s.lookup(ctx, VisitorKey, true)
	if !ok {
		vid = s.newVisitor(s.fingerprint(), s.now())
	}
	s.writeAll(ctx, VisitorKey, vid)
	return vid
}

// MarkAsVoted records the voted marker for candidateID in every backend.
// An empty candidateID records that the server refused this voter without
// confirming which candidate, if any, it credited.
func (s *IdentityStore) MarkAsVoted(ctx context.Context, candidateID string) {
	raw, err := json.Marshal(VotedMarker{Voted: true, CandidateID: candidateID, Timestamp: s.now().UnixMilli()})
	if err != nil {
		log.Warn().Err(err).Msg("encode voted marker")
		return
	}
	s.writeAll(ctx, VotedKey, string(raw))
}

// HasVotedLocally checks the synchronous backends only. A marker found in
// one of them is rewritten to every backend.
func (s *IdentityStore) HasVotedLocally(ctx context.Context) bool {
	v, ok := s.lookup(ctx, VotedKey, false)
	if ok {
		s.writeAll(ctx, VotedKey, v)
	}
	return ok
}

// LocalVote returns the marker from the first backend holding one,
// including the durable backend, and rewrites it to every backend.
func (s *IdentityStore) LocalVote(ctx context.Context) (VotedMarker, bool) {
	v, ok := s.lookup(ctx, VotedKey, true)
	if !ok {
		return VotedMarker{}, false
	}
	s.writeAll(ctx, VotedKey, v)
	var m VotedMarker
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return VotedMarker{}, false
	}
	return m, true
}

// CheckDurableStore reports whether the hardest-to-clear backend holds a
// voted marker.
func (s *IdentityStore) CheckDurableStore(ctx context.Context) bool {
	if s.durable == nil {
		return false
	}
	v, err := s.durable.Get(ctx, VotedKey)
	return err == nil && v != ""
}

// Wait blocks until pending durable writes finish.
func (s *IdentityStore) Wait() {
	s.pending.Wait()
}
