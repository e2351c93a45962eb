// Package metrics exports routine setup and solve measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cgc_dispatch"

// Recorder implements dispatch.Recorder.
type Recorder struct {
	setups          *prometheus.CounterVec
	setupDuration   *prometheus.HistogramVec
	solves          *prometheus.CounterVec
	solveDuration   *prometheus.HistogramVec
	solveIterations *prometheus.HistogramVec
}

// New registers the dispatch metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		setups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routine",
			Name:      "setups_total",
			Help:      "Routine setups by result.",
		}, []string{"routine", "result"}),
		setupDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routine",
			Name:      "setup_duration_seconds",
			Help:      "Time to resolve symbols and compile the program.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"routine"}),
		solves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "solves_total",
			Help:      "Solver calls by termination status.",
		}, []string{"routine", "status"}),
		solveDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "duration_seconds",
			Help:      "Solver wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"routine"}),
		solveIterations: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "iterations",
			Help:      "Solver iterations per call.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 7),
		}, []string{"routine"}),
	}
}

// ObserveSetup records one setup attempt.
func (r *Recorder) ObserveSetup(routine string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.setups.WithLabelValues(routine, result).Inc()
	r.setupDuration.WithLabelValues(routine).Observe(elapsed.Seconds())
}

// ObserveSolve records one solver call.
func (r *Recorder) ObserveSolve(routine, status string, iterations int, elapsed time.Duration) {
	r.solves.WithLabelValues(routine, status).Inc()
	r.solveDuration.WithLabelValues(routine).Observe(elapsed.Seconds())
	r.solveIterations.WithLabelValues(routine).Observe(float64(iterations))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
