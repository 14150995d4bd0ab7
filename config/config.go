// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the relay can run against a local OBS with minimal setup.
// For required chat credentials, use ValidateChatReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Chat transports selectable via CHAT_TRANSPORT.
const (
	TransportWebSocket = "websocket"
	TransportIRC       = "irc"
)

type Config struct {
	// Twitch
	TwitchChannel     string
	TwitchBotUsername string
	TwitchOAuthToken  string

	// Chat
	ChatTransport        string
	ChatWSURL            string
	ChatKeepAlive        time.Duration
	AdminUsers           []string
	EnablePublicCommands bool
	EnableModCommands    bool
	HandlerTimeout       time.Duration

	// Deferred follow-ups
	StopStreamOnHostInterval time.Duration
	StopStreamOnRaidInterval time.Duration
	RefreshSceneInterval     time.Duration

	// OBS
	OBSURL              string
	OBSPassword         string
	NormalScene         string
	LowBitrateScene     string
	OfflineScene        string
	RefreshScene        string
	OBSRequestTimeout   time.Duration
	BitratePollInterval time.Duration

	// Database (optional command audit)
	DBDsn string

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. It doesn't fail if Twitch creds are missing;
// use ValidateChatReady() before connecting to chat. Malformed values are reported with the variable name.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.TwitchChannel = strings.TrimPrefix(strings.TrimSpace(os.Getenv("TWITCH_CHANNEL")), "#")
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")

	// Chat
	cfg.ChatTransport = strings.ToLower(envOr("CHAT_TRANSPORT", TransportWebSocket))
	if cfg.ChatTransport != TransportWebSocket && cfg.ChatTransport != TransportIRC {
		return nil, fmt.Errorf("invalid CHAT_TRANSPORT %q: want %s or %s", cfg.ChatTransport, TransportWebSocket, TransportIRC)
	}
	cfg.ChatWSURL = envOr("CHAT_WS_URL", "wss://irc-ws.chat.twitch.tv:443")
	if cfg.ChatKeepAlive, err = durationEnv("CHAT_KEEPALIVE_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	cfg.AdminUsers = splitList(os.Getenv("CHAT_ADMIN_USERS"))
	if cfg.EnablePublicCommands, err = boolEnv("CHAT_ENABLE_PUBLIC_COMMANDS"); err != nil {
		return nil, err
	}
	if cfg.EnableModCommands, err = boolEnv("CHAT_ENABLE_MOD_COMMANDS"); err != nil {
		return nil, err
	}
	if cfg.HandlerTimeout, err = durationEnv("CHAT_HANDLER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Follow-up delays are milliseconds, matching the bot's historical settings.
	if cfg.StopStreamOnHostInterval, err = millisEnv("STOP_STREAM_ON_HOST_INTERVAL_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.StopStreamOnRaidInterval, err = millisEnv("STOP_STREAM_ON_RAID_INTERVAL_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.RefreshSceneInterval, err = millisEnv("REFRESH_SCENE_INTERVAL_MS", 5000); err != nil {
		return nil, err
	}

	// OBS
	cfg.OBSURL = envOr("OBS_URL", "ws://localhost:4455")
	cfg.OBSPassword = os.Getenv("OBS_PASSWORD")
	cfg.NormalScene = envOr("OBS_NORMAL_SCENE", "live")
	cfg.LowBitrateScene = envOr("OBS_LOW_BITRATE_SCENE", "low")
	cfg.OfflineScene = envOr("OBS_OFFLINE_SCENE", "offline")
	cfg.RefreshScene = envOr("OBS_REFRESH_SCENE", "refresh")
	if cfg.OBSRequestTimeout, err = durationEnv("OBS_REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.BitratePollInterval, err = durationEnv("OBS_BITRATE_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	// Backend calls must time out before the handler does.
	if cfg.HandlerTimeout > 0 && cfg.OBSRequestTimeout >= cfg.HandlerTimeout {
		return nil, fmt.Errorf("OBS_REQUEST_TIMEOUT (%s) must be shorter than CHAT_HANDLER_TIMEOUT (%s)", cfg.OBSRequestTimeout, cfg.HandlerTimeout)
	}

	// DB: empty disables the audit store.
	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = envOr("HTTP_ADDR", ":8080")

	return cfg, nil
}

// ValidateChatReady checks the fields required to join chat.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" || c.TwitchOAuthToken == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_OAUTH_TOKEN")
	}
	return nil
}

// AuditEnabled reports whether dispatched commands should be persisted.
func (c *Config) AuditEnabled() bool { return c.DBDsn != "" }

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration %s", key, d)
	}
	return d, nil
}

func millisEnv(key string, def int) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Duration(def) * time.Millisecond, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: negative interval %d", key, n)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func boolEnv(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
