package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mozilla-ai/mcphost/internal/transport"
)

// metric returns the sample of family name whose labels include want, or nil.
func metric(t *testing.T, tel *Telemetry, name string, want map[string]string) *dto.Metric {
	t.Helper()

	families, err := tel.Gatherer().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range want {
				if got[k] != v {
					match = false
					break
				}
			}
			if match {
				return m
			}
		}
	}
	return nil
}

func TestTelemetry_RecordStart(t *testing.T) {
	t.Parallel()

	tel := Noop()
	caps := transport.CapabilityTools | transport.CapabilityPrompts

	tel.RecordStart("fs", 150*time.Millisecond, OutcomeSuccess, "", caps)
	tel.RecordStart("fs", time.Second, OutcomeError, string(transport.ErrorCodeCommandNotFound), 0)

	ok := metric(t, tel, "mcphost_server_starts_total", map[string]string{"server": "fs", "outcome": OutcomeSuccess})
	require.NotNil(t, ok)
	require.Equal(t, 1.0, ok.GetCounter().GetValue())

	failed := metric(t, tel, "mcphost_server_starts_total", map[string]string{
		"server": "fs", "outcome": OutcomeError, "code": "command_not_found",
	})
	require.NotNil(t, failed)

	hist := metric(t, tel, "mcphost_server_start_duration_seconds", map[string]string{"server": "fs", "outcome": OutcomeSuccess})
	require.NotNil(t, hist)
	require.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())

	require.NotNil(t, metric(t, tel, "mcphost_server_capability", map[string]string{"server": "fs", "capability": "tools"}))
	require.NotNil(t, metric(t, tel, "mcphost_server_capability", map[string]string{"server": "fs", "capability": "prompts"}))
	require.Nil(t, metric(t, tel, "mcphost_server_capability", map[string]string{"server": "fs", "capability": "logging"}))
}

func TestTelemetry_RecordStatusKeepsOneSeries(t *testing.T) {
	t.Parallel()

	tel := Noop()
	tel.RecordStatus("fs", transport.StatusStarting)
	tel.RecordStatus("fs", transport.StatusRunning)

	require.Nil(t, metric(t, tel, "mcphost_server_status", map[string]string{"server": "fs", "status": transport.StatusStarting.String()}))
	require.NotNil(t, metric(t, tel, "mcphost_server_status", map[string]string{"server": "fs", "status": transport.StatusRunning.String()}))

	tel.ForgetServer("fs")
	require.Nil(t, metric(t, tel, "mcphost_server_status", map[string]string{"server": "fs"}))
}

func TestTelemetry_ToolCallsAndInvalidTools(t *testing.T) {
	t.Parallel()

	tel := Noop()
	tel.RecordToolCall("fs", "read", 10*time.Millisecond, OutcomeSuccess)
	tel.RecordToolCall("fs", "read", 20*time.Millisecond, OutcomeSuccess)
	tel.RecordInvalidTools("fs", 0)
	tel.RecordInvalidTools("fs", 3)

	calls := metric(t, tel, "mcphost_tool_calls_total", map[string]string{"server": "fs", "tool": "read"})
	require.NotNil(t, calls)
	require.Equal(t, 2.0, calls.GetCounter().GetValue())

	invalid := metric(t, tel, "mcphost_server_invalid_tools_total", map[string]string{"server": "fs"})
	require.NotNil(t, invalid)
	require.Equal(t, 3.0, invalid.GetCounter().GetValue())
}

func TestTelemetry_Spans(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tel, err := New(tp)
	require.NoError(t, err)

	_, span := tel.StartSpan(context.Background(), "server.start", "fs")
	EndSpan(span, nil)

	_, span = tel.StartSpan(context.Background(), "tool.call", "fs")
	EndSpan(span, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	require.Equal(t, "server.start", spans[0].Name())
	require.Equal(t, codes.Ok, spans[0].Status().Code)
	require.Len(t, spans[0].Attributes(), 1)
	require.Equal(t, "mcp.server.id", string(spans[0].Attributes()[0].Key))
	require.Equal(t, "fs", spans[0].Attributes()[0].Value.AsString())

	require.Equal(t, codes.Error, spans[1].Status().Code)
	require.Equal(t, "boom", spans[1].Status().Description)
}

func TestTelemetry_Handler(t *testing.T) {
	t.Parallel()

	tel, err := New(nil)
	require.NoError(t, err)
	tel.RecordFetch("fs", OutcomeSuccess)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `mcphost_server_fetches_total{outcome="success",server="fs"} 1`))
	require.True(t, strings.Contains(string(body), "go_goroutines"))
}
