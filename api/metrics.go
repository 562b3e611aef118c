package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	purchaseDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_purchase_decisions_total",
		Help: "Administrator decisions by verdict and outcome.",
	}, []string{"decision", "outcome"})
)

func observeRequest(method, path string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

func observeDecision(decision string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	purchaseDecisions.WithLabelValues(decision, outcome).Inc()
}
