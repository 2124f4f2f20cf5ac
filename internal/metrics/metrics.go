// Package metrics exports workflow and HTTP counters for Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Gurpartap/taskflow/agent"
)

// Metrics owns a private registry so independent instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	loopTerminated  *prometheus.CounterVec
	toolResults     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	activeWebsocket prometheus.Gauge
}

var _ agent.EventSink = (*Metrics)(nil)

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_events_total",
			Help: "Runtime events published, by type.",
		}, []string{"type"}),
		loopTerminated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_loop_terminations_total",
			Help: "Human-in-the-loop terminations, by loop and final status.",
		}, []string{"loop", "status"}),
		toolResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_tool_results_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskflow_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),
		activeWebsocket: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskflow_websocket_connections",
			Help: "Open websocket connections.",
		}),
	}
}

// Publish counts event. It never fails so it cannot block the run.
func (m *Metrics) Publish(_ context.Context, event agent.Event) error {
	m.events.WithLabelValues(string(event.Type)).Inc()
	switch event.Type {
	case agent.EventTypeLoopTerminated:
		m.loopTerminated.WithLabelValues(event.Loop, event.LoopStatus).Inc()
	case agent.EventTypeToolResult:
		if event.ToolResult == nil {
			return nil
		}
		outcome := "ok"
		if event.ToolResult.IsError {
			outcome = "error"
		}
		m.toolResults.WithLabelValues(event.ToolResult.Name, outcome).Inc()
	}
	return nil
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// WebsocketOpened returns the func to call when the connection closes.
func (m *Metrics) WebsocketOpened() func() {
	m.activeWebsocket.Inc()
	return m.activeWebsocket.Dec
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
