package metrics

import (
	"net/http"
	"strconv"

	"github.com/apexai/nexus/pkg/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nexus"

// Metrics holds the Nexus counters and the registry they are exported from.
type Metrics struct {
	registry *prometheus.Registry

	TasksSubmitted prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	ProxyRequests  *prometheus.CounterVec
}

// NewMetrics creates the counters on a fresh registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_submitted_total",
				Help:      "Total tasks created",
			},
		),
		TasksFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Total tasks that reached a terminal status",
			},
			[]string{"status"},
		),
		ProxyRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "proxy_requests_total",
				Help:      "Total upstream requests sent through the proxy",
			},
			[]string{"method", "code"},
		),
	}
}

// Notify implements service.TaskNotifier.
func (m *Metrics) Notify(ev service.TaskEvent) {
	switch ev.Type {
	case service.TaskCreated:
		m.TasksSubmitted.Inc()
	case service.TaskUpdated:
		// Guarded updates make the transition into a terminal status happen once.
		if ev.Task.Status.IsTerminal() {
			m.TasksFinished.WithLabelValues(string(ev.Task.Status)).Inc()
		}
	}
}

// ObserveProxy has the shape of proxy.Observer.
func (m *Metrics) ObserveProxy(method string, status int, err error) {
	code := strconv.Itoa(status)
	if err != nil {
		code = "error"
	}
	m.ProxyRequests.WithLabelValues(method, code).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
