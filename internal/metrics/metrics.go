// Package metrics exposes the worker scoreboard and connection
// counters as Prometheus collectors (spec.md §2 "scoreboard" — this is
// a supplemented export surface the distilled spec itself doesn't name
// but that fits naturally alongside the admin status page).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the gauges/counters the server updates as clients
// connect, workers spawn/die, and responses finish.
type Registry struct {
	WorkerCount       prometheus.Gauge
	WorkerClients     *prometheus.GaugeVec
	WorkerRequests    *prometheus.CounterVec
	ClientsActive     prometheus.Gauge
	AbortedSessions   prometheus.Counter
	BytesSentTotal    prometheus.Counter
	BytesReceived     prometheus.Counter
	ResponsesByStatus *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		WorkerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhttpd",
			Name:      "fastcgi_workers",
			Help:      "Current number of live FastCGI worker processes.",
		}),
		WorkerClients: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mhttpd",
			Name:      "fastcgi_worker_clients",
			Help:      "Clients currently bound to each FastCGI worker.",
		}, []string{"worker_id"}),
		WorkerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mhttpd",
			Name:      "fastcgi_worker_requests_total",
			Help:      "Requests routed to each FastCGI worker.",
		}, []string{"worker_id"}),
		ClientsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mhttpd",
			Name:      "clients_active",
			Help:      "Currently connected HTTP clients.",
		}),
		AbortedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mhttpd",
			Name:      "fastcgi_sessions_aborted_total",
			Help:      "FastCGI sessions abandoned due to peer disconnect.",
		}),
		BytesSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mhttpd",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to client sockets.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mhttpd",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from client sockets.",
		}),
		ResponsesByStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mhttpd",
			Name:      "responses_total",
			Help:      "Completed responses by status code.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.WorkerCount, m.WorkerClients, m.WorkerRequests, m.ClientsActive,
		m.AbortedSessions, m.BytesSentTotal, m.BytesReceived, m.ResponsesByStatus,
	)
	return m
}
