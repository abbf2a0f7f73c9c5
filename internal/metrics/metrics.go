// Package metrics holds the Prometheus instruments shared across the
// signaling subsystem.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CallsStarted      prometheus.Counter
	CallOutcomes      *prometheus.CounterVec
	RingDuration      prometheus.Histogram
	NotificationSends *prometheus.CounterVec
	LiveSessions      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_calls_started_total",
			Help: "Call attempts initiated.",
		}),
		CallOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_call_outcomes_total",
			Help: "Call attempts by final state.",
		}, []string{"state"}),
		RingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_ring_duration_seconds",
			Help:    "Time from initiation to answer or rejection.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		NotificationSends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_notification_sends_total",
			Help: "Push notification delivery attempts by channel and result.",
		}, []string{"channel", "result"}),
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_live_sessions",
			Help: "Currently attached realtime sessions.",
		}),
	}
}
