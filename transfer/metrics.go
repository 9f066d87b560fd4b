package transfer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transfer outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics collects server-side transfer statistics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transfers *prometheus.CounterVec
	bytesSent *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the transfer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transfers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xfer_transfers_total",
				Help: "Total number of served transfer requests",
			},
			[]string{"transport", "outcome"},
		),
		bytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xfer_payload_bytes_total",
				Help: "Total number of payload bytes sent",
			},
			[]string{"transport"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xfer_send_duration_seconds",
				Help:    "Measured send duration of successful transfers",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"transport"},
		),
	}
	if reg != nil {
		reg.MustRegister(m)
	}
	return m
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.transfers.Describe(ch)
	m.bytesSent.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.transfers.Collect(ch)
	m.bytesSent.Collect(ch)
	m.duration.Collect(ch)
}

// Served records a finished transfer request.
func (m *Metrics) Served(transport, outcome string, bytes int64, d time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(transport, outcome).Inc()
	if bytes > 0 {
		m.bytesSent.WithLabelValues(transport).Add(float64(bytes))
	}
	if outcome == OutcomeOK {
		m.duration.WithLabelValues(transport).Observe(d.Seconds())
	}
}
