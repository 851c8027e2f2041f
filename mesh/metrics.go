package mesh

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registration outcomes used as the "outcome" label
const (
	OutcomeConverged     = "converged"
	OutcomeMaxIterations = "max_iterations"
	OutcomeDegenerate    = "degenerate"
	OutcomeInvalid       = "invalid"
	OutcomeError         = "error"
)

// Metrics collects registration counters and distributions.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registrations *prometheus.CounterVec
	iterations    *prometheus.HistogramVec
	finalError    *prometheus.HistogramVec
	duration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshicp_registrations_total",
				Help: "Total number of registration runs",
			},
			[]string{"strategy", "outcome"},
		),
		iterations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshicp_registration_iterations",
				Help:    "Solve steps per registration run",
				Buckets: prometheus.ExponentialBuckets(1, 2, 9),
			},
			[]string{"strategy"},
		),
		finalError: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshicp_registration_error",
				Help:    "Final residual error per registration run",
				Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
			},
			[]string{"strategy"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshicp_registration_duration_seconds",
				Help:    "Registration latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.registrations, m.iterations, m.finalError, m.duration)
	}
	return m
}

// Observe records one finished run. result may be nil when err is set.
func (m *Metrics) Observe(strategy string, result *AlignmentResult, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(strategy, outcome(result, err)).Inc()
	m.duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if result != nil {
		m.iterations.WithLabelValues(strategy).Observe(float64(result.Iterations))
		m.finalError.WithLabelValues(strategy).Observe(result.Error)
	}
}

func outcome(result *AlignmentResult, err error) string {
	switch {
	case errors.Is(err, ErrDegenerateCorrespondence), errors.Is(err, ErrEigenDecompositionFailure):
		return OutcomeDegenerate
	case errors.Is(err, ErrInvalidInputShape), errors.Is(err, ErrInvalidConfig):
		return OutcomeInvalid
	case err != nil:
		return OutcomeError
	case result != nil && result.Converged:
		return OutcomeConverged
	default:
		return OutcomeMaxIterations
	}
}
