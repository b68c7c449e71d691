package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
	outcomeEmpty = "empty"
)

var completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookchat_completions_total",
	Help: "Model completion attempts by provider and outcome",
}, []string{"provider", "outcome"})

var completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "bookchat_completion_duration_seconds",
	Help:    "Latency of model completion calls",
	Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
}, []string{"provider"})

var sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bookchat_sessions_created_total",
	Help: "Chat sessions created on first contact",
})

var insightsAppended = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bookchat_insights_appended_total",
	Help: "Insights appended",
})
