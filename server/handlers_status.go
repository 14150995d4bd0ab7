package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/onnwee/obs-chat-relay/telemetry"
)

type rateStatus struct {
	BurstCount      int  `json:"burst_count"`
	BurstWindowOpen bool `json:"burst_window_open"`
	CooldownActive  bool `json:"cooldown_active"`
}

type auditEntry struct {
	Command    string    `json:"command"`
	Arg        string    `json:"arg,omitempty"`
	Username   string    `json:"username"`
	Reply      string    `json:"reply,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

type statusResponse struct {
	Channel     string       `json:"channel"`
	Commands    []string     `json:"commands"`
	Scene       string       `json:"scene,omitempty"`
	BitrateKbps int          `json:"bitrate_kbps"`
	RateLimiter *rateStatus  `json:"rate_limiter,omitempty"`
	Recent      []auditEntry `json:"recent_commands,omitempty"`
}

// HandleStatus reports the session's limiter state, the backend's scene and bitrate, and,
// when auditing is enabled, the most recent commands (?limit=N, default 10).
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := statusResponse{Channel: h.deps.Channel, Commands: h.deps.Commands}
	if resp.Commands == nil {
		resp.Commands = []string{}
	}
	if b := h.deps.Backend; b != nil {
		resp.Scene = b.CurrentScene()
		resp.BitrateKbps = b.Bitrate()
	}
	if s := h.deps.Session; s != nil {
		if st, err := s.RateState(ctx); err == nil {
			resp.RateLimiter = &rateStatus{BurstCount: st.BurstCount, BurstWindowOpen: st.BurstWindowOpen, CooldownActive: st.CooldownActive}
		} else {
			log.Debug("status: rate state unavailable", slog.Any("err", err), slog.String("component", "http"))
		}
	}
	if a := h.deps.Audit; a != nil {
		recs, err := a.RecentCommands(ctx, h.deps.Channel, parseIntQuery(r, "limit", 10))
		if err != nil {
			log.Warn("status: audit query failed", slog.Any("err", err), slog.String("component", "http"))
		}
		for _, rec := range recs {
			resp.Recent = append(resp.Recent, auditEntry{
				Command:    rec.Command,
				Arg:        rec.Arg,
				Username:   rec.Username,
				Reply:      rec.Reply,
				DurationMS: rec.Duration.Milliseconds(),
				At:         rec.At,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseIntQuery extracts an int parameter from query string with a default value.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
