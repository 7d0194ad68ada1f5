// Package metrics exposes generation counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/suykerbuyk/cardfill/internal/backend"
	"github.com/suykerbuyk/cardfill/internal/batch"
	"github.com/suykerbuyk/cardfill/internal/generate"
)

// Collector records orchestrator and batch events. It implements
// generate.Observer.
type Collector struct {
	registry *prometheus.Registry

	fields       *prometheus.CounterVec
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	records      *prometheus.CounterVec
	runs         prometheus.Counter
}

// New creates a Collector with its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		fields: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardfill_fields_total",
			Help: "Target fields by final state (applied, failed, skipped)",
		}, []string{"note_type", "state"}),
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardfill_backend_calls_total",
			Help: "Backend calls by result kind (ok or error kind)",
		}, []string{"result"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cardfill_backend_call_seconds",
			Help:    "Backend call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"note_type"}),
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardfill_records_total",
			Help: "Processed records by outcome status",
		}, []string{"status"}),
		runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardfill_batch_runs_total",
			Help: "Completed batch runs",
		}),
	}
}

// Registry returns the registry to serve.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// FieldState counts terminal field states.
func (c *Collector) FieldState(noteType, _ string, s generate.State) {
	switch s {
	case generate.StateApplied, generate.StateFailed, generate.StateSkipped:
		c.fields.WithLabelValues(noteType, string(s)).Inc()
	}
}

// BackendCall counts one backend attempt.
func (c *Collector) BackendCall(noteType string, elapsed time.Duration, err *backend.Error) {
	result := "ok"
	if err != nil {
		result = string(err.Kind)
	}
	c.calls.WithLabelValues(result).Inc()
	c.callDuration.WithLabelValues(noteType).Observe(elapsed.Seconds())
}

// Outcome counts one record outcome.
func (c *Collector) Outcome(o generate.Outcome) {
	c.records.WithLabelValues(string(o.Status)).Inc()
}

// Run counts a finished batch and its outcomes.
func (c *Collector) Run(res batch.Result) {
	c.runs.Inc()
	for _, o := range res.Outcomes {
		c.Outcome(o)
	}
}
