// Package metrics exposes pipeline and HTTP counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "business"

// Registry owns the collectors. A nil *Registry is valid and records nothing, so
// components can be constructed without metrics in tests.
type Registry struct {
	reg *prometheus.Registry

	Processed    *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	DeadLettered *prometheus.CounterVec
	Stalled      *prometheus.GaugeVec
	StageLatency *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec
}

// NewRegistry creates and registers every collector.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	stageLabels := []string{"stage", "partition"}

	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_processed_total",
		Help:      "Messages a stage worker handled successfully.",
	}, stageLabels)
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_dropped_total",
		Help:      "Messages discarded because they could not be decoded.",
	}, stageLabels)
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_retries_total",
		Help:      "Failed attempts that were retried.",
	}, stageLabels)
	deadLettered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_deadlettered_total",
		Help:      "Messages routed to the dead-letter subject.",
	}, stageLabels)
	stalled := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pipeline_stalled",
		Help:      "1 while a worker is retrying its current message.",
	}, stageLabels)
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_stage_seconds",
		Help:      "Time a stage spent on one message, retries included.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})

	r.MustRegister(processed, dropped, retries, deadLettered, stalled, latency, httpRequests)

	return &Registry{
		reg:          r,
		Processed:    processed,
		Dropped:      dropped,
		Retries:      retries,
		DeadLettered: deadLettered,
		Stalled:      stalled,
		StageLatency: latency,
		HTTPRequests: httpRequests,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}

	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncProcessed(stage string, partition int) {
	if r == nil {
		return
	}

	r.Processed.WithLabelValues(stage, strconv.Itoa(partition)).Inc()
}

func (r *Registry) IncDropped(stage string, partition int) {
	if r == nil {
		return
	}

	r.Dropped.WithLabelValues(stage, strconv.Itoa(partition)).Inc()
}

func (r *Registry) IncRetries(stage string, partition int) {
	if r == nil {
		return
	}

	r.Retries.WithLabelValues(stage, strconv.Itoa(partition)).Inc()
}

func (r *Registry) IncDeadLettered(stage string, partition int) {
	if r == nil {
		return
	}

	r.DeadLettered.WithLabelValues(stage, strconv.Itoa(partition)).Inc()
}

// SetStalled flips the stalled gauge of one worker.
func (r *Registry) SetStalled(stage string, partition int, stalled bool) {
	if r == nil {
		return
	}

	v := 0.0
	if stalled {
		v = 1
	}

	r.Stalled.WithLabelValues(stage, strconv.Itoa(partition)).Set(v)
}

func (r *Registry) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}

	r.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Registry) IncHTTPRequest(route string, code int) {
	if r == nil {
		return
	}

	r.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
