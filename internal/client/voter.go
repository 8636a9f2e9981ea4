// Package client is the voter side: device fingerprinting, redundant local
// identity, and submission to the poll server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roniherschmann/go-pollguard/internal/fingerprint"
)

// VoteRequest is the body of POST /api/vote.
type VoteRequest struct {
	CandidateID string `json:"candidateId"`
	VisitorID   string `json:"visitorId,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Language    string `json:"language,omitempty"`
	ScreenRes   string `json:"screenRes,omitempty"`
}

type VoteResponse struct {
	Success bool `json:"success"`
	Updated bool `json:"updated"`
}

type Tally struct {
	CandidateID string `json:"candidateId"`
	Votes       int64  `json:"votes"`
}

type Results struct {
	Results    []Tally `json:"results"`
	TotalVotes int64   `json:"totalVotes"`
}

const alreadyVotedMessage = "you have already voted"

// APIError is a non-2xx answer from the server, or a replay of an earlier
// alreadyVoted answer remembered locally.
type APIError struct {
	Status       int
	Message      string
	AlreadyVoted bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Voter struct {
	base     *url.URL
	http     *http.Client
	ids      *IdentityStore
	signals  fingerprint.Signals
	testMode string
}

type VoterOption func(*Voter)

func WithHTTPClient(c *http.Client) VoterOption {
	return func(v *Voter) { v.http = c }
}

// WithTestMode sends the operator test secret with every vote.
func WithTestMode(secret string) VoterOption {
	return func(v *Voter) { v.testMode = secret }
}

func NewVoter(base *url.URL, ids *IdentityStore, signals fingerprint.Signals, opts ...VoterOption) *Voter {
	v := &Voter{
		base:    base,
		http:    &http.Client{Timeout: 10 * time.Second},
		ids:     ids,
		signals: signals,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Vote submits candidateID. Repeating a vote already recorded locally for
// the same candidate is answered locally. A server saying the voter already
// voted is recorded locally too, so the client stops asking.
func (v *Voter) Vote(ctx context.Context, candidateID string) (VoteResponse, error) {
	if m, ok := v.ids.LocalVote(ctx); ok {
		switch m.CandidateID {
		case "":
			return VoteResponse{}, &APIError{Status: http.StatusBadRequest, Message: alreadyVotedMessage, AlreadyVoted: true}
		case candidateID:
			return VoteResponse{Success: true}, nil
		}
	}

	req := VoteRequest{
		CandidateID: candidateID,
		VisitorID:   v.ids.VoterIdentifier(ctx),
		Fingerprint: fingerprint.Generate(v.signals),
		Timezone:    v.signals.TimeZone,
		Language:    v.signals.Language,
		ScreenRes:   v.signals.ScreenRes(),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return VoteResponse{}, err
	}

	u := v.base.JoinPath("api", "vote")
	if v.testMode != "" {
		q := u.Query()
		q.Set("test", v.testMode)
		u.RawQuery = q.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return VoteResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(httpReq)
	if err != nil {
		return VoteResponse{}, fmt.Errorf("submit vote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		apiErr := decodeError(resp)
		if apiErr.AlreadyVoted {
			v.ids.MarkAsVoted(ctx, "")
		}
		return VoteResponse{}, apiErr
	}

	var out VoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return VoteResponse{}, fmt.Errorf("decode vote response: %w", err)
	}
	if out.Success {
		v.ids.MarkAsVoted(ctx, candidateID)
	}
	return out, nil
}

func (v *Voter) Results(ctx context.Context) (Results, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.base.JoinPath("api", "results").String(), nil)
	if err != nil {
		return Results{}, err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return Results{}, fmt.Errorf("fetch results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Results{}, decodeError(resp)
	}
	var out Results
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Results{}, fmt.Errorf("decode results: %w", err)
	}
	return out, nil
}

func decodeError(resp *http.Response) *APIError {
	var body struct {
		Error        string `json:"error"`
		AlreadyVoted bool   `json:"alreadyVoted"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
		apiErr.AlreadyVoted = body.AlreadyVoted
	}
	if strings.TrimSpace(apiErr.Message) == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
