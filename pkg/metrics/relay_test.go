package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRelayMetricsExportsCountersAndHistograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewRelayMetrics(reg)
	key := "event.created"

	metrics.ObservePublishDuration(key, 50*time.Millisecond)
	metrics.IncPublished(key)
	metrics.IncRetried(key)
	metrics.IncExhausted(key)
	metrics.AddReclaimed(3)
	metrics.ObserveBatchSize(7)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for _, name := range []string{"outbox_published_total", "outbox_retried_total", "outbox_exhausted_total"} {
		if got, err := fetchCounterValue(mfs, name, "routing_key", key); err != nil {
			t.Fatalf("fetch %s: %v", name, err)
		} else if got != 1 {
			t.Fatalf("expected %s=1, got %f", name, got)
		}
	}

	if got, err := fetchHistogramSum(mfs, "outbox_publish_duration_seconds", "routing_key", key); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	reclaimed := findMetricFamily(mfs, "outbox_reclaimed_total")
	if reclaimed == nil || len(reclaimed.GetMetric()) == 0 {
		t.Fatalf("reclaimed counter not exported")
	}
	if got := reclaimed.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected reclaimed=3, got %f", got)
	}
}

func TestRelayMetricsNilSafe(t *testing.T) {
	var metrics *RelayMetrics
	metrics.IncPublished("event.created")
	metrics.ObserveBatchSize(1)

	empty := NewRelayMetrics(nil)
	empty.IncRetried("event.created")
	empty.AddReclaimed(1)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
