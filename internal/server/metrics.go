package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	sessionsStarted  prometheus.Counter
	sessionsPaused   prometheus.Counter
	sessionsResumed  prometheus.Counter
	sessionsCanceled prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesentinel",
			Name:      "sessions_started_total",
			Help:      "Sessions started over the API.",
		}),
		sessionsPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesentinel",
			Name:      "sessions_paused_total",
			Help:      "Sessions paused over the API.",
		}),
		sessionsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesentinel",
			Name:      "sessions_resumed_total",
			Help:      "Sessions resumed over the API.",
		}),
		sessionsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "codesentinel",
			Name:      "sessions_canceled_total",
			Help:      "Sessions canceled over the API.",
		}),
	}
	registry.MustRegister(m.sessionsStarted, m.sessionsPaused, m.sessionsResumed, m.sessionsCanceled)
	return m
}
