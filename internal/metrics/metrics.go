package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VotesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "votes_accepted_total",
		Help: "Accepted vote submissions by kind (new, change, repeat).",
	}, []string{"kind"})
	VotesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "votes_rejected_total",
		Help: "Rejected vote submissions by reason.",
	}, []string{"reason"})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_errors_total",
		Help: "Store failures by operation.",
	}, []string{"op"})
	ResultsRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "results_requests_total",
		Help: "Total results reads.",
	})
)

func init() {
	prometheus.MustRegister(VotesAccepted, VotesRejected, StoreErrors, ResultsRequests)
}

func Handler(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
