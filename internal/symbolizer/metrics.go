package symbolizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusResolved   = "resolved"
	statusUnresolved = "unresolved"
	statusError      = "error"
)

// Metrics counts symbol table activity. A nil *Metrics records nothing.
type Metrics struct {
	lookups *prometheus.CounterVec
	latency prometheus.Histogram
	modules prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "symbol_lookups_total",
				Help:      "Address lookups by outcome",
			},
			[]string{"status"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "symbol_lookup_duration_seconds",
				Help:      "Time spent scanning symbol tables for one address",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs to ~4s
			},
		),
		modules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "symbol_table_modules",
				Help:      "Modules in the most recently built symbol table",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.lookups, m.latency, m.modules} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordLookup(found bool, err error, took time.Duration) {
	if m == nil {
		return
	}
	status := statusUnresolved
	switch {
	case err != nil:
		status = statusError
	case found:
		status = statusResolved
	}
	m.lookups.WithLabelValues(status).Inc()
	m.latency.Observe(took.Seconds())
}

func (m *Metrics) setModules(n int) {
	if m == nil {
		return
	}
	m.modules.Set(float64(n))
}
