// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	LinesReceived      prometheus.Counter
	LinesIgnored       prometheus.Counter
	PingsAnswered      prometheus.Counter
	CommandsDispatched *prometheus.CounterVec
	CommandsRejected   *prometheus.CounterVec
	BridgeMessages     *prometheus.CounterVec
	BackendFailures    *prometheus.CounterVec

	// Histograms (seconds)
	HandlerDuration prometheus.Observer

	// Gauges
	BurstCountGauge prometheus.Gauge
	BitrateGauge    prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		LinesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_lines_received_total", Help: "Number of raw chat protocol lines received"})
		LinesIgnored = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_lines_ignored_total", Help: "Number of lines that matched no known shape"})
		PingsAnswered = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_pings_answered_total", Help: "Number of keep-alive PINGs answered with PONG"})
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_commands_dispatched_total", Help: "Commands dispatched to a handler"}, []string{"command"})
		CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_commands_rejected_total", Help: "Commands dropped before dispatch"}, []string{"reason"})
		BridgeMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_bridge_messages_total", Help: "Backend events relayed into chat"}, []string{"event"})
		BackendFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obs_backend_failures_total", Help: "Failed streaming-control calls"}, []string{"operation"})
		HandlerDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_handler_duration_seconds", Help: "Command handler duration seconds", Buckets: prometheus.DefBuckets})
		BurstCountGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_burst_count", Help: "Commands accepted in the current burst window"})
		BitrateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "obs_bitrate_kbps", Help: "Last observed outgoing stream bitrate in Kbps"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func incVec(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

// IncLinesReceived counts one inbound protocol line.
func IncLinesReceived() { inc(LinesReceived) }

// IncLinesIgnored counts one line that parsed to nothing.
func IncLinesIgnored() { inc(LinesIgnored) }

// IncPingsAnswered counts one PONG reply.
func IncPingsAnswered() { inc(PingsAnswered) }

// IncDispatched counts a dispatched command by name.
func IncDispatched(command string) { incVec(CommandsDispatched, command) }

// IncRejected counts a dropped command by reason (unauthorized, unknown).
func IncRejected(reason string) { incVec(CommandsRejected, reason) }

// IncBridge counts a relayed backend event.
func IncBridge(event string) { incVec(BridgeMessages, event) }

// IncBackendFailure counts a failed backend operation.
func IncBackendFailure(operation string) { incVec(BackendFailures, operation) }

// SetBurstCount records the limiter's current burst count.
func SetBurstCount(n int) {
	if BurstCountGauge != nil {
		BurstCountGauge.Set(float64(n))
	}
}

// SetBitrate records the last observed bitrate.
func SetBitrate(kbps int) {
	if BitrateGauge != nil {
		BitrateGauge.Set(float64(kbps))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
