package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/obs-chat-relay/config"
)

// fakeTMI accepts one chat connection and exposes what the client sent.
type fakeTMI struct {
	received chan string
	conns    chan *websocket.Conn
}

func newFakeTMI(t *testing.T) (*fakeTMI, string) {
	t.Helper()
	f := &fakeTMI{received: make(chan string, 32), conns: make(chan *websocket.Conn, 1)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		f.conns <- conn
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			for _, line := range strings.Split(strings.TrimSuffix(string(data), "\r\n"), "\r\n") {
				f.received <- line
			}
		}
	}))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (f *fakeTMI) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-f.received:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client line")
		return ""
	}
}

func recvLine(t *testing.T, lines <-chan string) string {
	t.Helper()
	select {
	case l := <-lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound line")
		return ""
	}
}

func TestWebSocketSession(t *testing.T) {
	tmi, url := newFakeTMI(t)
	clock := clockwork.NewFakeClock()
	ws := NewWebSocket(WebSocketConfig{
		URL:        url,
		Username:   "RelayBot",
		OAuthToken: "abc123",
		Channel:    "#MyChan",
		KeepAlive:  time.Minute,
	}, clock)

	assert.ErrorIs(t, ws.SendLine(context.Background(), "PRIVMSG #mychan :too early"), ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	assert.Equal(t, "CAP REQ :twitch.tv/tags", tmi.next(t))
	assert.Equal(t, "PASS oauth:abc123", tmi.next(t))
	assert.Equal(t, "NICK relaybot", tmi.next(t))
	assert.Equal(t, "JOIN #mychan", tmi.next(t))
	assert.True(t, ws.Connected())

	conn := <-tmi.conns
	frame := "PING :tmi.twitch.tv\r\n@mod=0 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #mychan :!bitrate\r\n"
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(frame)))
	assert.Equal(t, "PING :tmi.twitch.tv\r\n", recvLine(t, ws.Lines()))
	assert.Equal(t, "@mod=0 :viewer!viewer@viewer.tmi.twitch.tv PRIVMSG #mychan :!bitrate\r\n", recvLine(t, ws.Lines()))

	require.NoError(t, ws.SendLine(context.Background(), "PRIVMSG #mychan :Current bitrate: 0 Kbps"))
	assert.Equal(t, "PRIVMSG #mychan :Current bitrate: 0 Kbps", tmi.next(t))

	bctx, bcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	clock.Advance(time.Minute)
	assert.Equal(t, "PING :tmi.twitch.tv", tmi.next(t))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	_, open := <-ws.Lines()
	assert.False(t, open, "Lines closed after Run")
	assert.False(t, ws.Connected())
}

func TestWebSocketServerClose(t *testing.T) {
	tmi, url := newFakeTMI(t)
	ws := NewWebSocket(WebSocketConfig{URL: url, Username: "bot", OAuthToken: "oauth:x", Channel: "c"}, clockwork.NewFakeClock())

	done := make(chan error, 1)
	go func() { done <- ws.Run(context.Background()) }()
	for i := 0; i < 4; i++ {
		tmi.next(t)
	}
	conn := <-tmi.conns
	require.NoError(t, conn.Close(websocket.StatusGoingAway, "restart"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after server close")
	}
}

func TestWebSocketDialFailure(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{URL: "ws://127.0.0.1:1"}, nil)
	err := ws.Run(context.Background())
	require.Error(t, err)
	_, open := <-ws.Lines()
	assert.False(t, open)
}

func TestNewSelectsTransport(t *testing.T) {
	cfg := &config.Config{TwitchChannel: "chan", TwitchBotUsername: "bot", TwitchOAuthToken: "oauth:x"}

	cfg.ChatTransport = config.TransportWebSocket
	tr, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebSocket{}, tr)

	cfg.ChatTransport = config.TransportIRC
	tr, err = New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &TwitchIRC{}, tr)

	cfg.ChatTransport = "smoke-signals"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
