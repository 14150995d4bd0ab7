package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
)

// DefaultWebSocketURL is Twitch's IRC-over-websocket endpoint.
const DefaultWebSocketURL = "wss://irc-ws.chat.twitch.tv:443"

// WebSocketConfig configures a WebSocket transport.
type WebSocketConfig struct {
	URL        string
	Username   string
	OAuthToken string
	Channel    string
	// KeepAlive is the interval between client PINGs; zero disables them.
	KeepAlive time.Duration
}

// WebSocket is a raw IRC transport over a websocket connection. Run is single-use: the
// Lines channel is closed when it returns.
type WebSocket struct {
	cfg   WebSocketConfig
	clock clockwork.Clock
	lines chan string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// NewWebSocket builds an unconnected transport.
func NewWebSocket(cfg WebSocketConfig, clock clockwork.Clock) *WebSocket {
	if cfg.URL == "" {
		cfg.URL = DefaultWebSocketURL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WebSocket{cfg: cfg, clock: clock, lines: make(chan string, 64)}
}

// Lines implements Transport.
func (w *WebSocket) Lines() <-chan string { return w.lines }

// Connected implements Transport.
func (w *WebSocket) Connected() bool { return w.connected.Load() }

// SendLine implements Transport.
func (w *WebSocket) SendLine(ctx context.Context, line string) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil || !w.connected.Load() {
		return ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(strings.TrimRight(line, "\r\n")+"\r\n")); err != nil {
		return fmt.Errorf("chat write: %w", err)
	}
	return nil
}

// Run implements Transport.
func (w *WebSocket) Run(ctx context.Context) error {
	defer close(w.lines)

	conn, _, err := websocket.Dial(ctx, w.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("chat dial %s: %w", w.cfg.URL, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.connected.Store(true)
	defer w.connected.Store(false)

	if err := w.login(ctx); err != nil {
		return err
	}
	slog.Info("chat connected", slog.String("url", w.cfg.URL), slog.String("channel", channelName(w.cfg.Channel)), slog.String("component", "transport"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if w.cfg.KeepAlive > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.keepAlive(ctx)
		}()
	}
	err = w.readLoop(ctx, conn)
	cancel()
	wg.Wait()
	return err
}

func (w *WebSocket) login(ctx context.Context) error {
	token := w.cfg.OAuthToken
	if token != "" && !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	for _, line := range []string{
		"CAP REQ :twitch.tv/tags",
		"PASS " + token,
		"NICK " + strings.ToLower(w.cfg.Username),
		"JOIN #" + channelName(w.cfg.Channel),
	} {
		if err := w.SendLine(ctx, line); err != nil {
			return fmt.Errorf("chat login: %w", err)
		}
	}
	return nil
}

func (w *WebSocket) keepAlive(ctx context.Context) {
	ticker := w.clock.NewTicker(w.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := w.SendLine(ctx, "PING :tmi.twitch.tv"); err != nil {
				slog.Debug("chat keepalive failed", slog.Any("err", err), slog.String("component", "transport"))
			}
		}
	}
}

// readLoop splits each frame into lines; Twitch batches several lines per frame.
func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("chat read: %w", err)
		}
		for _, line := range strings.Split(string(data), "\r\n") {
			if line == "" {
				continue
			}
			select {
			case w.lines <- line + "\r\n":
			case <-ctx.Done():
				return nil
			}
		}
	}
}
