package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts dispatches by overall outcome ("ok" / "error").
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_dispatch_total",
		Help: "Notification dispatches by outcome.",
	}, []string{"outcome"})

	// StreamPushTotal counts stream push attempts by result
	// ("delivered" / "not_connected" / "write_error").
	StreamPushTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_stream_push_total",
		Help: "Stream push attempts by result.",
	}, []string{"result"})

	// EmailTotal counts email fan-out decisions
	// ("sent" / "skipped_preference" / "skipped_quiet_hours" / "error").
	EmailTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_email_total",
		Help: "Email fan-out outcomes.",
	}, []string{"outcome"})

	// DeliveryLatency observes stream delivery latency in seconds.
	DeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notify_stream_delivery_latency_seconds",
		Help:    "Latency from notification creation to stream delivery.",
		Buckets: prometheus.DefBuckets,
	})
)

// RegisterConnectionGauge exposes the registry's live connection count.
func RegisterConnectionGauge(count func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "notify_active_connections",
		Help: "Live push-stream connections.",
	}, func() float64 { return float64(count()) })
}
