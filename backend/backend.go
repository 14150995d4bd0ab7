// Package backend defines the streaming-control port the chat side talks to.
// The obs package provides the production implementation; testutil provides a fake.
package backend

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by controllers that have no live backend session.
var ErrNotConnected = errors.New("backend not connected")

// Controller is the subset of streaming-control operations used by chat commands.
type Controller interface {
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	SetScene(ctx context.Context, name string) error
	// Bitrate returns the last observed outgoing bitrate in Kbps.
	Bitrate() int
	CurrentScene() string
}

// EventKind enumerates backend-originated notifications relayed to chat.
type EventKind int

const (
	EventLive EventKind = iota + 1
	EventNormalScene
	EventLowBitrateScene
	EventOffline
)

func (k EventKind) String() string {
	switch k {
	case EventLive:
		return "live"
	case EventNormalScene:
		return "normal_scene"
	case EventLowBitrateScene:
		return "low_bitrate_scene"
	case EventOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Event is a typed backend notification. Scene is set for scene-change kinds.
type Event struct {
	Kind  EventKind
	Scene string
}
