package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // idempotent

	if HandlerDuration == nil {
		t.Error("HandlerDuration histogram not initialized")
	}
	if CommandsDispatched == nil || CommandsRejected == nil {
		t.Error("command counters not initialized")
	}
	if BitrateGauge == nil || BurstCountGauge == nil {
		t.Error("gauges not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(CommandsDispatched.WithLabelValues("bitrate"))
	IncDispatched("bitrate")
	IncDispatched("bitrate")
	if got := testutil.ToFloat64(CommandsDispatched.WithLabelValues("bitrate")) - before; got != 2 {
		t.Errorf("dispatched delta = %v, want 2", got)
	}

	before = testutil.ToFloat64(CommandsRejected.WithLabelValues("unknown"))
	IncRejected("unknown")
	if got := testutil.ToFloat64(CommandsRejected.WithLabelValues("unknown")) - before; got != 1 {
		t.Errorf("rejected delta = %v, want 1", got)
	}

	before = testutil.ToFloat64(LinesReceived)
	IncLinesReceived()
	if got := testutil.ToFloat64(LinesReceived) - before; got != 1 {
		t.Errorf("lines received delta = %v, want 1", got)
	}
}

func TestGaugeHelpers(t *testing.T) {
	Init()

	SetBitrate(4500)
	if got := testutil.ToFloat64(BitrateGauge); got != 4500 {
		t.Errorf("bitrate gauge = %v, want 4500", got)
	}
	SetBurstCount(7)
	if got := testutil.ToFloat64(BurstCountGauge); got != 7 {
		t.Errorf("burst gauge = %v, want 7", got)
	}
}

func TestTimeFuncObserves(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_time_func_seconds", Buckets: prometheus.DefBuckets})

	d := TimeFunc(h, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("TimeFunc returned %v, want >= 5ms", d)
	}

	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if got := m.GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
	if m.GetHistogram().GetSampleSum() <= 0 {
		t.Errorf("sample sum should be positive")
	}

	// nil observer is allowed
	_ = TimeFunc(nil, func() {})
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("GetCorrelation(empty) = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}

func TestSamplerRatio(t *testing.T) {
	cases := map[string]float64{"": 1, "0.25": 0.25, "bogus": 1, "2": 1}
	for in, want := range cases {
		t.Setenv("OTEL_TRACES_SAMPLER_RATIO", in)
		if got := samplerRatio(); got != want {
			t.Errorf("samplerRatio(%q) = %v, want %v", in, got, want)
		}
	}
}
