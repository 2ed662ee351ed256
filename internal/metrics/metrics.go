package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of process spawn attempts that succeeded.",
		}, []string{"name"},
	)
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts performed by the monitor loop.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of stops (graceful or kill).",
		}, []string{"name"},
	)
	processFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "process",
			Name:      "failures_total",
			Help:      "Number of transitions into the failed status.",
		}, []string{"name"},
	)
	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sandboxd",
			Subsystem: "gateway",
			Name:      "proxy_requests_total",
			Help:      "Proxied HTTP requests by module and response code.",
		}, []string{"module", "code"},
	)
	proxyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sandboxd",
			Subsystem: "gateway",
			Name:      "proxy_request_duration_seconds",
			Help:      "Latency of proxied HTTP requests by module.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"},
	)
	wsSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sandboxd",
			Subsystem: "gateway",
			Name:      "websocket_sessions",
			Help:      "Currently bridged WebSocket sessions by module.",
		}, []string{"module"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{processStarts, processRestarts, processStops, processFailures, proxyRequests, proxyDuration, wsSessions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		processRestarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncFailure(name string) {
	if regOK.Load() {
		processFailures.WithLabelValues(name).Inc()
	}
}

func ObserveProxy(module, code string, seconds float64) {
	if regOK.Load() {
		proxyRequests.WithLabelValues(module, code).Inc()
		proxyDuration.WithLabelValues(module).Observe(seconds)
	}
}

func WSSessionStart(module string) {
	if regOK.Load() {
		wsSessions.WithLabelValues(module).Inc()
	}
}

func WSSessionEnd(module string) {
	if regOK.Load() {
		wsSessions.WithLabelValues(module).Dec()
	}
}
