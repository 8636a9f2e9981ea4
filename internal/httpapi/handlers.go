package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pollguard/internal/identity"
	"github.com/roniherschmann/go-pollguard/internal/metrics"
	"github.com/roniherschmann/go-pollguard/internal/vote"
)

const maxBodyBytes = 16 << 10

type Router struct {
	svc *vote.Service
}

func NewRouter(svc *vote.Service) http.Handler {
	r := chi.NewRouter()
	// Logging middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(log.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", dur).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	api := &Router{svc: svc}

	r.Get("/healthz", api.handleHealth)
	r.Get("/readyz", api.handleReady)
	r.Get("/metrics", metrics.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/vote", api.handleVote)
		r.Get("/results", api.handleResults)
	})

	return r
}

type voteReq struct {
	CandidateID string `json:"candidateId"`
	VisitorID   string `json:"visitorId"`
	Fingerprint string `json:"fingerprint"`
	Timezone    string `json:"timezone"`
	Language    string `json:"language"`
	ScreenRes   string `json:"screenRes"`
}

type voteResp struct {
	Success bool `json:"success"`
	Updated bool `json:"updated"`
}

type errorResp struct {
	Error        string   `json:"error"`
	AlreadyVoted *bool    `json:"alreadyVoted,omitempty"`
	Received     *string  `json:"received,omitempty"`
	Valid        []string `json:"valid,omitempty"`
}

func (rt *Router) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, errorResp{Error: "invalid json"}, http.StatusBadRequest)
		return
	}

	receipt, err := rt.svc.Submit(r.Context(), vote.Submission{
		CandidateID: req.CandidateID,
		TestToken:   r.URL.Query().Get("test"),
		Evidence: identity.Evidence{
			Fingerprint:  req.Fingerprint,
			VisitorID:    req.VisitorID,
			ScreenRes:    req.ScreenRes,
			Timezone:     req.Timezone,
			UserAgent:    r.UserAgent(),
			ForwardedFor: r.Header.Get("X-Forwarded-For"),
			RealIP:       r.Header.Get("X-Real-Ip"),
			RemoteAddr:   r.RemoteAddr,
		},
	})
	if err != nil {
		rt.writeReject(w, r, req, err)
		return
	}
	writeJSON(w, voteResp{Success: true, Updated: receipt.Updated}, http.StatusOK)
}

func (rt *Router) writeReject(w http.ResponseWriter, r *http.Request, req voteReq, err error) {
	var re *vote.RejectError
	if !errors.As(err, &re) {
		hlog.FromRequest(r).Error().Err(err).Msg("unexpected submission error")
		writeJSON(w, errorResp{Error: vote.ErrStorageUnavailable.Message}, http.StatusInternalServerError)
		return
	}
	switch re.Kind {
	case vote.KindInvalidCandidate:
		received := req.CandidateID
		writeJSON(w, errorResp{
			Error:    re.Message,
			Received: &received,
			Valid:    rt.svc.Candidates().IDs(),
		}, http.StatusBadRequest)
	case vote.KindDuplicateVote:
		yes := true
		writeJSON(w, errorResp{Error: re.Message, AlreadyVoted: &yes}, http.StatusBadRequest)
	case vote.KindRateLimited:
		no := false
		writeJSON(w, errorResp{Error: re.Message, AlreadyVoted: &no}, http.StatusTooManyRequests)
	default:
		writeJSON(w, errorResp{Error: re.Message}, http.StatusInternalServerError)
	}
}

func (rt *Router) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := rt.svc.Results(r.Context())
	if err != nil {
		writeJSON(w, errorResp{Error: "failed to fetch results"}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (rt *Router) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.Ready(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("store not ready")
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
