// Package metrics exposes runtime activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainvm"

// Metrics holds the collectors of one runtime. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reg          *prometheus.Registry
	transactions *prometheus.CounterVec
	gasUsed      prometheus.Histogram
	execSteps    prometheus.Histogram
	invocations  *prometheus.CounterVec
	deploys      *prometheus.CounterVec
	duration     prometheus.Histogram
}

// New registers the runtime collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		transactions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tx",
				Name:      "total",
				Help:      "Transactions executed, by final state and result kind",
			},
			[]string{"state", "kind"},
		),
		gasUsed: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "gas_used",
			Help:      "Gas consumed per transaction",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		}),
		execSteps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "exec_steps",
			Help:      "Execution steps per transaction",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 10),
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tx",
			Name:      "duration_seconds",
			Help:      "Wall time per transaction",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		invocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "vm",
				Name:      "invocations_total",
				Help:      "Contract invocations including nested calls, by vm",
			},
			[]string{"vm"},
		),
		deploys: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "contract",
				Name:      "deploys_total",
				Help:      "Contract deployments, by vm and outcome",
			},
			[]string{"vm", "outcome"},
		),
	}
}

// Registry is the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Transaction records a finished transaction.
func (m *Metrics) Transaction(state, kind string, gas, steps uint64, seconds float64) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(state, kind).Inc()
	m.gasUsed.Observe(float64(gas))
	m.execSteps.Observe(float64(steps))
	m.duration.Observe(seconds)
}

// Invocation records one contract run on vm.
func (m *Metrics) Invocation(vm string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(vm).Inc()
}

// Deploy records a deployment attempt.
func (m *Metrics) Deploy(vm string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.deploys.WithLabelValues(vm, outcome).Inc()
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// CounterFunc registers a counter whose value is read from fn at scrape
// time. fn must be monotonic.
func (m *Metrics) CounterFunc(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}
