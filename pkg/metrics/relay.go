package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RelayMetrics records what the outbox relay does each tick.
type RelayMetrics struct {
	publishDuration *prometheus.HistogramVec
	published       *prometheus.CounterVec
	retried         *prometheus.CounterVec
	exhausted       *prometheus.CounterVec
	reclaimed       prometheus.Counter
	batchSize       prometheus.Histogram
}

// NewRelayMetrics registers the relay metrics on the provided registerer.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	if reg == nil {
		return &RelayMetrics{}
	}
	publishDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_publish_duration_seconds",
		Help:    "Duration of individual outbox publish attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"routing_key"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_published_total",
		Help: "Outbox rows published to the bus.",
	}, []string{"routing_key"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_retried_total",
		Help: "Outbox publish attempts that failed and were scheduled for retry.",
	}, []string{"routing_key"})
	exhausted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_exhausted_total",
		Help: "Outbox rows that ran out of attempts and were marked failed.",
	}, []string{"routing_key"})
	reclaimed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "outbox_reclaimed_total",
		Help: "Stale processing rows returned to pending.",
	})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_batch_size",
		Help:    "Rows fetched per relay tick.",
		Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
	})
	reg.MustRegister(publishDuration, published, retried, exhausted, reclaimed, batchSize)
	return &RelayMetrics{
		publishDuration: publishDuration,
		published:       published,
		retried:         retried,
		exhausted:       exhausted,
		reclaimed:       reclaimed,
		batchSize:       batchSize,
	}
}

// ObservePublishDuration records the duration of one publish attempt.
func (m *RelayMetrics) ObservePublishDuration(routingKey string, duration time.Duration) {
	if m == nil || m.publishDuration == nil {
		return
	}
	m.publishDuration.WithLabelValues(normalizeLabel(routingKey)).Observe(duration.Seconds())
}

// IncPublished increments the published counter for the routing key.
func (m *RelayMetrics) IncPublished(routingKey string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

// IncRetried increments the retried counter for the routing key.
func (m *RelayMetrics) IncRetried(routingKey string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

// IncExhausted increments the exhausted counter for the routing key.
func (m *RelayMetrics) IncExhausted(routingKey string) {
	if m == nil || m.exhausted == nil {
		return
	}
	m.exhausted.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

// AddReclaimed counts stale rows returned to pending.
func (m *RelayMetrics) AddReclaimed(count int64) {
	if m == nil || m.reclaimed == nil || count <= 0 {
		return
	}
	m.reclaimed.Add(float64(count))
}

// ObserveBatchSize records how many rows one tick fetched.
func (m *RelayMetrics) ObserveBatchSize(size int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
