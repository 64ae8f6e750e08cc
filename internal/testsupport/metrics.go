package testsupport

import (
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// MetricValue reads one series from the default registry. Counters and gauges
// report their value, histograms and summaries their sample count. A series
// that has never been written reads as 0.
func MetricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	// Gather returns families sorted by name.
	idx, found := slices.BinarySearchFunc(families, name, func(mf *dto.MetricFamily, n string) int {
		switch {
		case mf.GetName() < n:
			return -1
		case mf.GetName() > n:
			return 1
		}
		return 0
	})
	if !found {
		return 0
	}

	for _, m := range families[idx].GetMetric() {
		if !hasLabels(m, labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		case m.GetSummary() != nil:
			return float64(m.GetSummary().GetSampleCount())
		}
	}
	return 0
}

// hasLabels reports whether m carries every pair in want. Extra labels on m are ignored.
func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, p := range m.GetLabel() {
		got[p.GetName()] = p.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// AssertMetricDelta runs fn and asserts the series moved by exactly delta.
// Tests sharing a series must not run in parallel with each other.
func AssertMetricDelta(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := MetricValue(t, name, labels)
	fn()
	after := MetricValue(t, name, labels)

	assert.Equal(t, delta, after-before, "metric %s%v delta mismatch", name, labels)
}

// AssertGaugeValue asserts the current value of a gauge series.
func AssertGaugeValue(t *testing.T, name string, labels map[string]string, want float64) {
	t.Helper()
	assert.Equal(t, want, MetricValue(t, name, labels), "gauge %s%v", name, labels)
}

// AssertHistogramRecorded asserts that a histogram series holds at least one sample.
func AssertHistogramRecorded(t *testing.T, name string, labels map[string]string) {
	t.Helper()
	assert.Positive(t, MetricValue(t, name, labels), "histogram %s%v should have recorded samples", name, labels)
}
