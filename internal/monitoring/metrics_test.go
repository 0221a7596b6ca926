package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCaptureMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCaptureMetrics(reg)

	m.ObserveCapture(OutcomeOK, 120*time.Millisecond)
	m.ObserveCapture(OutcomeOK, 80*time.Millisecond)
	m.ObserveCapture(OutcomeNoResult, 5*time.Second)

	if got := testutil.ToFloat64(m.captures.WithLabelValues(OutcomeOK)); got != 2 {
		t.Fatalf("expected 2 ok captures, got %f", got)
	}
	if got := testutil.ToFloat64(m.captures.WithLabelValues(OutcomeNoResult)); got != 1 {
		t.Fatalf("expected 1 no_result capture, got %f", got)
	}
	if got := testutil.ToFloat64(m.captures.WithLabelValues(OutcomeError)); got != 0 {
		t.Fatalf("expected 0 error captures, got %f", got)
	}
	if samples := testutil.CollectAndCount(m.duration); samples != 1 {
		t.Fatalf("expected duration histogram to expose 1 metric, got %d", samples)
	}

	m.ObservePolls(3)
	if samples := testutil.CollectAndCount(m.polls); samples != 1 {
		t.Fatalf("expected polls histogram to expose 1 metric, got %d", samples)
	}

	m.ObserveKey(true)
	m.ObserveKey(false)
	m.ObserveKey(false)
	if got := testutil.ToFloat64(m.keys.WithLabelValues("sent")); got != 1 {
		t.Fatalf("expected 1 sent key, got %f", got)
	}
	if got := testutil.ToFloat64(m.keys.WithLabelValues("skipped")); got != 2 {
		t.Fatalf("expected 2 skipped keys, got %f", got)
	}
}

func TestCaptureMetrics_NilIsNoop(t *testing.T) {
	var m *CaptureMetrics

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("nil CaptureMetrics panicked: %v", r)
		}
	}()

	m.ObserveCapture(OutcomeOK, time.Second)
	m.ObservePolls(1)
	m.ObserveKey(true)
}
