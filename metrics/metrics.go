package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tbfctl"

// Metrics counts ingestion, validation and apply outcomes of one run.
type Metrics struct {
	Registry *prometheus.Registry

	ParseErrors   *prometheus.CounterVec
	Conflicts     prometheus.Counter
	Rejections    *prometheus.CounterVec
	Applies       *prometheus.CounterVec
	ConfiguredBps *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Configuration assignments ignored because the value could not be parsed.",
		}, []string{"key"}),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Assignments ignored because the attach point holds another qdisc kind.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Qdisc sections dropped by validation, by reason.",
		}, []string{"reason"}),
		Applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "apply_total",
			Help:      "Qdisc submissions by result.",
		}, []string{"result"}),
		ConfiguredBps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "configured_rate_bytes",
			Help:      "Sustained rate in bytes per second last applied to a link.",
		}, []string{"link"}),
	}

	m.Registry.MustRegister(m.ParseErrors, m.Conflicts, m.Rejections, m.Applies, m.ConfiguredBps)
	return m
}

// WriteTextfile writes all metrics for the node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
