package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/obs-chat-relay/backend"
	"github.com/onnwee/obs-chat-relay/telemetry"
)

// Sayer posts chat text.
type Sayer interface {
	Say(ctx context.Context, text string)
}

// BitrateReader exposes the backend's current bitrate.
type BitrateReader interface {
	Bitrate() int
}

// SceneNames are the configured backend scene names.
type SceneNames struct {
	Normal     string
	LowBitrate string
	Offline    string
	Refresh    string
}

// FormatBitrate renders the bitrate report line.
func FormatBitrate(kbps int) string {
	return fmt.Sprintf("Current bitrate: %d Kbps", kbps)
}

// EventBridge relays backend events into chat. It never goes through the router or the
// rate limiter.
type EventBridge struct {
	out     Sayer
	bitrate BitrateReader
	scenes  SceneNames
}

// NewEventBridge builds a bridge posting through out.
func NewEventBridge(out Sayer, bitrate BitrateReader, scenes SceneNames) *EventBridge {
	return &EventBridge{out: out, bitrate: bitrate, scenes: scenes}
}

// Run drains events until ctx is done or the channel is closed.
func (b *EventBridge) Run(ctx context.Context, events <-chan backend.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.Relay(ctx, ev)
		}
	}
}

// Relay posts the chat lines for one event.
func (b *EventBridge) Relay(ctx context.Context, ev backend.Event) {
	lines := b.Lines(ev)
	if len(lines) == 0 {
		slog.Debug("bridge: ignoring event", slog.String("event", ev.Kind.String()), slog.String("component", "bridge"))
		return
	}
	for _, line := range lines {
		b.out.Say(ctx, line)
	}
	telemetry.IncBridge(ev.Kind.String())
}

// Lines returns the chat text for ev.
func (b *EventBridge) Lines(ev backend.Event) []string {
	switch ev.Kind {
	case backend.EventLive:
		return []string{"Stream went live"}
	case backend.EventNormalScene:
		return b.sceneLines(ev.Scene, b.scenes.Normal)
	case backend.EventLowBitrateScene:
		return b.sceneLines(ev.Scene, b.scenes.LowBitrate)
	case backend.EventOffline:
		return []string{"Stream went offline"}
	default:
		return nil
	}
}

func (b *EventBridge) sceneLines(scene, fallback string) []string {
	if scene == "" {
		scene = fallback
	}
	lines := []string{fmt.Sprintf("Scene switched to \"%s\"", scene)}
	if b.bitrate != nil {
		lines = append(lines, FormatBitrate(b.bitrate.Bitrate()))
	}
	return lines
}
