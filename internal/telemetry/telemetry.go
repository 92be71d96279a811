// Package telemetry records server lifecycle and tool call metrics with Prometheus, and traces the same operations
// with OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mozilla-ai/mcphost/internal/transport"
)

const namespace = "mcphost"

// TracerName is the instrumentation scope of every span this package starts.
const TracerName = "github.com/mozilla-ai/mcphost"

// Outcome labels.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
	OutcomeUntrusted = "untrusted"
)

// Telemetry is safe for concurrent use and is never nil once created; use Noop when nothing should be recorded.
// New or Noop should be used to create instances of Telemetry.
type Telemetry struct {
	tracer   trace.Tracer
	gatherer prometheus.Gatherer

	startDuration    *prometheus.HistogramVec
	starts           *prometheus.CounterVec
	serverStatus     *prometheus.GaugeVec
	capabilities     *prometheus.GaugeVec
	fetches          *prometheus.CounterVec
	invalidTools     *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
}

// New registers metrics on a fresh registry, which also carries the Go and process collectors,
// and traces through tp. A nil tp disables tracing.
func New(tp trace.TracerProvider) (*Telemetry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	return newTelemetry(reg, reg, tp)
}

// Noop returns telemetry that records into a private registry and discards spans.
func Noop() *Telemetry {
	reg := prometheus.NewRegistry()
	t, err := newTelemetry(reg, reg, nil)
	if err != nil {
		// Registering fresh collectors on an empty registry cannot fail.
		panic(err)
	}
	return t
}

func newTelemetry(reg prometheus.Registerer, gatherer prometheus.Gatherer, tp trace.TracerProvider) (*Telemetry, error) {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	t := &Telemetry{
		tracer:   tp.Tracer(TracerName),
		gatherer: gatherer,
		startDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "start_duration_seconds",
			Help:      "Time taken for a server to settle after a start request.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"server", "outcome"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Server start attempts by outcome and error code.",
		}, []string{"server", "outcome", "code"}),
		serverStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "status",
			Help:      "1 for the current lifecycle status of each server.",
		}, []string{"server", "status"}),
		capabilities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "capability",
			Help:      "1 for each capability a running server advertised.",
		}, []string{"server", "capability"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "fetches_total",
			Help:      "Live tool and prompt list fetches by outcome.",
		}, []string{"server", "outcome"}),
		invalidTools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "invalid_tools_total",
			Help:      "Tools omitted because their input schema was invalid.",
		}, []string{"server"}),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "tool", "outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool calls by outcome.",
		}, []string{"server", "tool", "outcome"}),
	}

	for _, c := range []prometheus.Collector{
		t.startDuration,
		t.starts,
		t.serverStatus,
		t.capabilities,
		t.fetches,
		t.invalidTools,
		t.toolCallDuration,
		t.toolCalls,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return t, nil
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, mainly for tests.
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return t.gatherer
}

// StartSpan starts a span for an operation against one server.
func (t *Telemetry) StartSpan(ctx context.Context, name string, serverID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String("mcp.server.id", serverID)}, attrs...)
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// RecordStart records a settled start attempt.
// code is empty unless the attempt failed. caps is only recorded for successful starts.
func (t *Telemetry) RecordStart(serverID string, d time.Duration, outcome string, code string, caps transport.Capabilities) {
	t.startDuration.WithLabelValues(serverID, outcome).Observe(d.Seconds())
	t.starts.WithLabelValues(serverID, outcome, code).Inc()

	if outcome != OutcomeSuccess {
		return
	}
	t.capabilities.DeletePartialMatch(prometheus.Labels{"server": serverID})
	for _, name := range caps.Names() {
		t.capabilities.WithLabelValues(serverID, name).Set(1)
	}
}

// RecordStatus marks status as the only current status of a server.
func (t *Telemetry) RecordStatus(serverID string, status transport.Status) {
	t.serverStatus.DeletePartialMatch(prometheus.Labels{"server": serverID})
	t.serverStatus.WithLabelValues(serverID, status.String()).Set(1)
}

// ForgetServer drops every per-server series, used when a server is removed.
func (t *Telemetry) ForgetServer(serverID string) {
	labels := prometheus.Labels{"server": serverID}
	t.serverStatus.DeletePartialMatch(labels)
	t.capabilities.DeletePartialMatch(labels)
}

// RecordFetch records a live list fetch.
func (t *Telemetry) RecordFetch(serverID string, outcome string) {
	t.fetches.WithLabelValues(serverID, outcome).Inc()
}

// RecordInvalidTools records tools dropped for invalid schemas.
func (t *Telemetry) RecordInvalidTools(serverID string, n int) {
	if n <= 0 {
		return
	}
	t.invalidTools.WithLabelValues(serverID).Add(float64(n))
}

// RecordToolCall records one tool call, including its retry if there was one.
func (t *Telemetry) RecordToolCall(serverID string, tool string, d time.Duration, outcome string) {
	t.toolCallDuration.WithLabelValues(serverID, tool, outcome).Observe(d.Seconds())
	t.toolCalls.WithLabelValues(serverID, tool, outcome).Inc()
}
