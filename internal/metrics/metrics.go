// Package metrics exports collection loop measurements to Prometheus.
package metrics

import (
	"errors"
	"time"

	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus metrics of one node. It implements
// collection.Observer.
type Collector struct {
	// Compile metrics
	Compiles        prometheus.Counter
	CompileDuration prometheus.Histogram
	FieldWarnings   prometheus.Counter

	// Fault metrics
	Faults *prometheus.CounterVec

	// Registry metrics
	TypesActive  prometheus.Gauge
	TypesKnown   prometheus.Gauge
	QueueDepth   prometheus.Gauge
	Pending      prometheus.Gauge
	Fields       prometheus.Gauge
	SessionState *prometheus.GaugeVec
}

// New creates a collector registered with the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a collector registered with reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Compiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostreg",
			Name:      "schema_compiles_total",
			Help:      "Schema compiles, including recompiles after rebinding",
		}),
		CompileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ghostreg",
			Name:      "schema_compile_duration_seconds",
			Help:      "Schema compile duration in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
		FieldWarnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "ghostreg",
			Name:      "field_warnings_total",
			Help:      "Field-level problems recovered from while compiling",
		}),
		Faults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ghostreg",
			Name:      "schema_faults_total",
			Help:      "Fatal schema faults by kind",
		}, []string{"kind"}),
		TypesActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghostreg",
			Name:      "ghost_types_active",
			Help:      "Ghost types with an active schema",
		}),
		TypesKnown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghostreg",
			Name:      "ghost_types_known",
			Help:      "Registry slots, active or not",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghostreg",
			Name:      "compile_queue_depth",
			Help:      "Compiles waiting in the queue",
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghostreg",
			Name:      "pending_remote_assignments",
			Help:      "Announced ghost types still waiting for a local template",
		}),
		Fields: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "ghostreg",
			Name:      "field_table_size",
			Help:      "Entries in the global field table",
		}),
		SessionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ghostreg",
			Name:      "session_state",
			Help:      "1 for the current collection state",
		}, []string{"state"}),
	}
}

func (c *Collector) ObserveCompile(_ string, took time.Duration, warnings int) {
	c.Compiles.Inc()
	c.CompileDuration.Observe(took.Seconds())
	c.FieldWarnings.Add(float64(warnings))
}

func (c *Collector) ObserveFault(f *collection.Fault) {
	c.Faults.WithLabelValues(faultKind(f.Err)).Inc()
}

func (c *Collector) ObserveTick(v *collection.View) {
	c.TypesActive.Set(float64(v.Activated))
	c.TypesKnown.Set(float64(len(v.Entries)))
	c.QueueDepth.Set(float64(v.QueueLen))
	c.Pending.Set(float64(v.Pending()))
	c.Fields.Set(float64(v.FieldCount))
	for _, s := range []collection.State{
		collection.StateIdle, collection.StateLoadingCatalogue,
		collection.StateActive, collection.StateDraining,
	} {
		val := 0.0
		if s == v.State {
			val = 1
		}
		c.SessionState.WithLabelValues(s.String()).Set(val)
	}
}

func faultKind(err error) string {
	switch {
	case errors.Is(err, collection.ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, collection.ErrUnresolvedType):
		return "unresolved_type"
	case errors.Is(err, collection.ErrSchemaDrift):
		return "schema_drift"
	case errors.Is(err, collection.ErrAnnouncementOrder):
		return "announcement_order"
	}
	return "compile"
}
