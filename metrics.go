package hashring

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	nodes           prometheus.Gauge
	positions       prometheus.Gauge
	replicas        prometheus.Gauge
	lookupsTotal    *prometheus.CounterVec
	collisionsTotal prometheus.Counter
	migrationsTotal prometheus.Counter

	// Resolved children of lookupsTotal, kept off the lookup path.
	lookupsSuccess prometheus.Counter
	lookupsInvalid prometheus.Counter
	lookupsEmpty   prometheus.Counter
}

var _ prometheus.Collector = (*metrics)(nil)

func newMetrics(o HashRingOptions) *metrics {
	var m metrics

	m.nodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hashring_nodes",
		Help: "Current number of nodes registered on the ring",
	})
	m.positions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hashring_positions",
		Help: "Current number of virtual node positions on the ring",
	})
	m.replicas = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hashring_replicas",
		Help: "Number of virtual nodes placed per node",
	})
	m.lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hashring_lookups_total",
		Help: "Total number of key lookups. result will be one of: success, error_invalid, or error_empty.",
	}, []string{"result"})
	m.collisionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hashring_collisions_total",
		Help: "Total number of virtual nodes that hashed onto an occupied position",
	})
	m.migrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hashring_migrations_total",
		Help: "Total number of arcs handed to the migrator",
	})

	m.lookupsSuccess = m.lookupsTotal.WithLabelValues("success")
	m.lookupsInvalid = m.lookupsTotal.WithLabelValues("error_invalid")
	m.lookupsEmpty = m.lookupsTotal.WithLabelValues("error_empty")

	// Set constants
	m.replicas.Set(float64(o.replicas))

	return &m
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.nodes.Describe(ch)
	m.positions.Describe(ch)
	m.replicas.Describe(ch)
	m.lookupsTotal.Describe(ch)
	m.collisionsTotal.Describe(ch)
	m.migrationsTotal.Describe(ch)
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.nodes.Collect(ch)
	m.positions.Collect(ch)
	m.replicas.Collect(ch)
	m.lookupsTotal.Collect(ch)
	m.collisionsTotal.Collect(ch)
	m.migrationsTotal.Collect(ch)
}
