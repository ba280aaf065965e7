//go:build linux

package agent

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics tracks what the agent has been doing. It lives on its own registry
// so multiple agents in one process (tests) don't collide.
type metrics struct {
	registry *prometheus.Registry

	connections prometheus.Counter
	requests    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	bytesIn     prometheus.Counter
	bytesOut    prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{registry: prometheus.NewRegistry()}

	m.connections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vsocky",
		Name:      "connections_total",
		Help:      "Connections accepted.",
	})
	m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vsocky",
		Name:      "requests_total",
		Help:      "Requests handled, by request type.",
	}, []string{"type"})
	m.failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vsocky",
		Name:      "failures_total",
		Help:      "Failed requests, by taxonomy kind.",
	}, []string{"kind"})
	m.bytesIn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vsocky",
		Name:      "bytes_read_total",
		Help:      "Payload bytes read from peers.",
	})
	m.bytesOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vsocky",
		Name:      "bytes_written_total",
		Help:      "Payload bytes written to peers.",
	})

	m.registry.MustRegister(m.connections, m.requests, m.failures, m.bytesIn, m.bytesOut)
	return m
}
