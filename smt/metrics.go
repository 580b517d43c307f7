package smt

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Prometheus collectors a Tree reports through, if any.
// A Tree built without WithMetricsRegisterer leaves every collector nil
// and every recording method becomes a no-op, so instrumentation never
// adds overhead to a tree that doesn't want it.
type metrics struct {
	operations *prometheus.CounterVec
	depth      prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		return &metrics{}
	}

	opsCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smt",
		Subsystem: "tree",
		Name:      "operations_total",
		Help:      "Number of tree operations performed, by kind.",
	}, []string{"op"})
	depthHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "smt",
		Subsystem: "tree",
		Name:      "sidenode_traversal_depth",
		Help:      "Number of levels descended while collecting sidenodes for an operation.",
		Buckets:   prometheus.LinearBuckets(0, 16, 17),
	})

	// Registration failures (e.g. duplicate registration across multiple
	// Tree instances sharing one registerer) are not fatal: metrics are an
	// observability aid, not part of the mutation contract.
	_ = reg.Register(opsCounter)
	_ = reg.Register(depthHist)

	return &metrics{operations: opsCounter, depth: depthHist}
}

func (m *metrics) recordOp(op string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
}

func (m *metrics) recordDepth(depth int) {
	if m == nil || m.depth == nil {
		return
	}
	m.depth.Observe(float64(depth))
}
