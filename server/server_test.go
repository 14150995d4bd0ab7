package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/onnwee/obs-chat-relay/chat"
	"github.com/onnwee/obs-chat-relay/testutil"
)

type fakeSession struct {
	st  chat.RateState
	err error
}

func (f fakeSession) RateState(context.Context) (chat.RateState, error) { return f.st, f.err }

type fakeAudit struct {
	recs    []chat.AuditRecord
	channel string
	limit   int
}

func (f *fakeAudit) RecentCommands(_ context.Context, channel string, limit int) ([]chat.AuditRecord, error) {
	f.channel, f.limit = channel, limit
	return f.recs, nil
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux(Deps{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
}

func TestCorrelationHeaderReused(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	rr := httptest.NewRecorder()
	NewMux(Deps{}).ServeHTTP(rr, req)

	assert.Equal(t, "corr-42", rr.Header().Get("X-Correlation-ID"))
}

func TestOneSpanPerRequest(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-7")
	NewMux(Deps{}).ServeHTTP(httptest.NewRecorder(), req)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Contains(t, spans[0].Attributes(), attribute.String("correlation_id", "corr-7"))
}

func TestReadyz(t *testing.T) {
	okCheck := Check{Name: "chat", Fn: func(context.Context) error { return nil }}
	badCheck := Check{Name: "obs", Fn: func(context.Context) error { return errors.New("not connected") }}

	t.Run("ready", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewMux(Deps{Checks: []Check{okCheck}}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "ready", resp["status"])
	})

	t.Run("first failure reported", func(t *testing.T) {
		rr := httptest.NewRecorder()
		NewMux(Deps{Checks: []Check{okCheck, badCheck}}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "not_ready", resp["status"])
		assert.Equal(t, "obs", resp["failed_check"])
		assert.Equal(t, "not connected", resp["error"])
	})
}

func TestStatus(t *testing.T) {
	audit := &fakeAudit{recs: []chat.AuditRecord{{
		Command:  "bitrate",
		Username: "viewer",
		Reply:    "Current bitrate: 3200 Kbps",
		Duration: 12 * time.Millisecond,
		At:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}}}
	deps := Deps{
		Channel:  "#streamer",
		Commands: []string{"bitrate", "start"},
		Session:  fakeSession{st: chat.RateState{BurstCount: 3, BurstWindowOpen: true, CooldownActive: true}},
		Backend:  testutil.NewFakeBackend("live", 3200),
		Audit:    audit,
	}

	rr := httptest.NewRecorder()
	NewMux(deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "#streamer", resp.Channel)
	assert.Equal(t, "live", resp.Scene)
	assert.Equal(t, 3200, resp.BitrateKbps)
	require.NotNil(t, resp.RateLimiter)
	assert.Equal(t, 3, resp.RateLimiter.BurstCount)
	assert.True(t, resp.RateLimiter.CooldownActive)
	require.Len(t, resp.Recent, 1)
	assert.Equal(t, int64(12), resp.Recent[0].DurationMS)
	assert.Equal(t, "#streamer", audit.channel)
	assert.Equal(t, 5, audit.limit)
}

func TestStatusWithoutSession(t *testing.T) {
	deps := Deps{Session: fakeSession{err: chat.ErrSessionNotRunning}}
	rr := httptest.NewRecorder()
	NewMux(deps).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Nil(t, resp.RateLimiter)
	assert.Equal(t, []string{}, resp.Commands)
}

func TestStatusRejectsPost(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux(Deps{}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux(Deps{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
