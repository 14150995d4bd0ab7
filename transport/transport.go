// Package transport connects the chat session to Twitch chat.
//
// Two implementations share the Transport interface:
//   - WebSocket speaks raw IRC over Twitch's websocket endpoint and is the default.
//   - TwitchIRC wraps go-twitch-irc, which handles PING and reconnects itself.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/obs-chat-relay/config"
)

// ErrNotConnected is returned by SendLine before the connection is established.
var ErrNotConnected = errors.New("chat transport not connected")

// Transport delivers inbound protocol lines and accepts outbound ones.
type Transport interface {
	// Lines yields raw inbound lines, CRLF-terminated.
	Lines() <-chan string
	// SendLine writes one protocol line. Safe for concurrent use.
	SendLine(ctx context.Context, line string) error
	// Run connects and blocks until ctx is done or the connection fails.
	Run(ctx context.Context) error
	Connected() bool
}

// New returns the transport selected by cfg.ChatTransport.
func New(cfg *config.Config, clock clockwork.Clock) (Transport, error) {
	switch strings.ToLower(cfg.ChatTransport) {
	case "", config.TransportWebSocket:
		return NewWebSocket(WebSocketConfig{
			URL:        cfg.ChatWSURL,
			Username:   cfg.TwitchBotUsername,
			OAuthToken: cfg.TwitchOAuthToken,
			Channel:    cfg.TwitchChannel,
			KeepAlive:  cfg.ChatKeepAlive,
		}, clock), nil
	case config.TransportIRC:
		return NewTwitchIRC(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel), nil
	default:
		return nil, fmt.Errorf("unknown CHAT_TRANSPORT %q (want %s or %s)", cfg.ChatTransport, config.TransportWebSocket, config.TransportIRC)
	}
}

func channelName(ch string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ch), "#"))
}
