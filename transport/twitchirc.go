package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// TwitchIRC wraps go-twitch-irc. The library answers PINGs and reconnects on its own, so
// outbound PONG lines are dropped and only PRIVMSG lines are forwarded (via Say).
type TwitchIRC struct {
	client    *twitch.Client
	channel   string
	lines     chan string
	done      chan struct{}
	connected atomic.Bool
}

// NewTwitchIRC registers the callbacks and joins channel on connect.
func NewTwitchIRC(username, oauth, channel string) *TwitchIRC {
	t := &TwitchIRC{
		client:  twitch.NewClient(strings.ToLower(username), oauth),
		channel: channelName(channel),
		lines:   make(chan string, 64),
		done:    make(chan struct{}),
	}

	t.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		// The session parses the raw line itself.
		t.push(msg.Raw)
	})
	t.client.OnConnect(func() {
		t.connected.Store(true)
		slog.Info("twitch irc connected", slog.String("channel", t.channel), slog.String("component", "transport"))
	})
	t.client.OnReconnectMessage(func(msg twitch.ReconnectMessage) {
		t.connected.Store(false)
		slog.Info("twitch irc: server requested reconnect", slog.String("raw", msg.Raw), slog.String("component", "transport"))
	})
	t.client.Join(t.channel)
	return t
}

func (t *TwitchIRC) push(raw string) {
	select {
	case t.lines <- strings.TrimRight(raw, "\r\n") + "\r\n":
	case <-t.done:
	}
}

// Lines implements Transport. The channel is never closed; callers stop on ctx.
func (t *TwitchIRC) Lines() <-chan string { return t.lines }

// Connected implements Transport.
func (t *TwitchIRC) Connected() bool { return t.connected.Load() }

// SendLine implements Transport.
func (t *TwitchIRC) SendLine(_ context.Context, line string) error {
	line = strings.TrimRight(line, "\r\n")
	verb, _, _ := strings.Cut(line, " ")
	switch verb {
	case "PONG", "PING":
		return nil
	case "PRIVMSG":
		channel, text, err := splitPrivmsg(line)
		if err != nil {
			return err
		}
		t.client.Say(channel, text)
		return nil
	default:
		return fmt.Errorf("twitch irc: unsupported outbound verb %q", verb)
	}
}

// splitPrivmsg turns "PRIVMSG #chan :text" into ("chan", "text").
func splitPrivmsg(line string) (string, string, error) {
	target, text, ok := strings.Cut(strings.TrimPrefix(line, "PRIVMSG "), " :")
	if !ok || !strings.HasPrefix(target, "#") {
		return "", "", fmt.Errorf("twitch irc: malformed PRIVMSG %q", line)
	}
	return channelName(target), text, nil
}

// Run implements Transport.
func (t *TwitchIRC) Run(ctx context.Context) error {
	defer close(t.done)
	errCh := make(chan error, 1)

	go func() {
		errCh <- t.client.Connect()
	}()

	select {
	case <-ctx.Done():
		_ = t.client.Disconnect()
		<-errCh
		t.connected.Store(false)
		return nil
	case err := <-errCh:
		t.connected.Store(false)
		return fmt.Errorf("twitch irc: %w", err)
	}
}
