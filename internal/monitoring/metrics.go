package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Capture outcomes recorded by CaptureMetrics.
const (
	OutcomeOK       = "ok"
	OutcomeNoResult = "no_result"
	OutcomeError    = "error"
)

// CaptureMetrics counts captures by outcome and records how long each
// capture and its target wait took. A nil *CaptureMetrics is valid and
// records nothing.
type CaptureMetrics struct {
	captures *prometheus.CounterVec
	duration prometheus.Histogram
	polls    prometheus.Histogram
	keys     *prometheus.CounterVec
}

// NewCaptureMetrics creates the capture collectors and registers them with
// reg. Passing nil registers with prometheus.DefaultRegisterer.
func NewCaptureMetrics(reg prometheus.Registerer) *CaptureMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &CaptureMetrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracecapture_captures_total",
			Help: "Captures attempted, by outcome (ok, no_result, error).",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracecapture_capture_duration_seconds",
			Help:    "Wall time of a full capture from configuration to ciphertext.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		polls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracecapture_target_polls",
			Help:    "Done-flag polls issued to the target per capture.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		keys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracecapture_key_uploads_total",
			Help: "Key uploads to the target, by result (sent, skipped).",
		}, []string{"result"}),
	}

	reg.MustRegister(m.captures, m.duration, m.polls, m.keys)
	return m
}

// ObserveCapture records one capture with its outcome and duration.
func (m *CaptureMetrics) ObserveCapture(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

// ObservePolls records how many done-flag polls a capture needed.
func (m *CaptureMetrics) ObservePolls(n int) {
	if m == nil {
		return
	}
	m.polls.Observe(float64(n))
}

// ObserveKey records whether a key upload was sent or skipped.
func (m *CaptureMetrics) ObserveKey(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.keys.WithLabelValues("sent").Inc()
		return
	}
	m.keys.WithLabelValues("skipped").Inc()
}
