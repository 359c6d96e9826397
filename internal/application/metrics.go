package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trigger labels for rotation metrics and logs.
const (
	triggerManual    = "manual"
	triggerScheduled = "scheduled"
)

// Metrics records rotation and code-generation activity. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	rotations      *prometheus.CounterVec
	duration       prometheus.Histogram
	armedTimers    prometheus.Gauge
	codesGenerated prometheus.Counter
}

// NewMetrics registers the application metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		rotations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotavault_rotations_total",
				Help: "Password rotation attempts by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rotavault_rotation_duration_seconds",
			Help:    "Duration of password rotation attempts in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		armedTimers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rotavault_armed_timers",
			Help: "Number of accounts with an armed rotation timer",
		}),
		codesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rotavault_codes_generated_total",
			Help: "One-time codes generated on demand",
		}),
	}
}

func (m *Metrics) recordRotation(trigger, result string, seconds float64) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(trigger, result).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) setArmedTimers(n int) {
	if m == nil {
		return
	}
	m.armedTimers.Set(float64(n))
}

func (m *Metrics) recordCode() {
	if m == nil {
		return
	}
	m.codesGenerated.Inc()
}
