// Package commands implements the chat command handlers that drive the streaming backend.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/onnwee/obs-chat-relay/backend"
	"github.com/onnwee/obs-chat-relay/chat"
	"github.com/onnwee/obs-chat-relay/telemetry"
)

// Deps are the collaborators and settings the handlers need.
type Deps struct {
	Backend   backend.Controller
	Scheduler *chat.Scheduler
	Scenes    chat.SceneNames

	StopStreamOnHostInterval time.Duration
	StopStreamOnRaidInterval time.Duration
	RefreshSceneInterval     time.Duration
}

// Set holds the handlers and their shared state.
type Set struct {
	deps       Deps
	refreshing atomic.Bool
}

// New returns the handler set.
func New(deps Deps) *Set {
	return &Set{deps: deps}
}

// Register adds every command to reg with its tier.
func Register(reg *chat.Registry, deps Deps) (*Set, error) {
	s := New(deps)
	entries := []struct {
		name string
		tier chat.Tier
		fn   chat.HandlerFunc
	}{
		{"host", chat.TierOwner, s.Host},
		{"unhost", chat.TierOwner, s.Unhost},
		{"raid", chat.TierOwner, s.Raid},
		{"start", chat.TierOwner, s.Start},
		{"stop", chat.TierOwner, s.Stop},
		{"switch", chat.TierOwner, s.Switch},
		{"bitrate", chat.TierPublic, s.Bitrate},
		{"info", chat.TierPublic, s.Info},
		{"refresh", chat.TierModerator, s.Refresh},
	}
	for _, e := range entries {
		if err := reg.Register(e.name, e.tier, e.fn); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Host announces a host and stops the stream after the configured delay.
func (s *Set) Host(_ context.Context, req chat.Request) string {
	return s.handOff("host", req, s.deps.StopStreamOnHostInterval)
}

// Raid announces a raid and stops the stream after the configured delay.
func (s *Set) Raid(_ context.Context, req chat.Request) string {
	return s.handOff("raid", req, s.deps.StopStreamOnRaidInterval)
}

func (s *Set) handOff(verb string, req chat.Request, delay time.Duration) string {
	if req.Arg == "" {
		slog.Info("commands: missing username", slog.String("command", verb), slog.String("component", "commands"))
		return "Error no username"
	}
	s.deps.Scheduler.After(delay, func(ctx context.Context) {
		if reply := s.stopStream(ctx); req.Say != nil {
			req.Say(ctx, reply)
		}
	})
	return "/" + verb + " " + req.Arg
}

// Unhost cancels a host.
func (s *Set) Unhost(context.Context, chat.Request) string {
	return "/unhost"
}

// Start starts streaming.
func (s *Set) Start(ctx context.Context, _ chat.Request) string {
	if err := s.deps.Backend.StartStream(ctx); err != nil {
		return s.failure(ctx, "start_stream", err)
	}
	return "Successfully started stream"
}

// Stop stops streaming.
func (s *Set) Stop(ctx context.Context, _ chat.Request) string {
	return s.stopStream(ctx)
}

func (s *Set) stopStream(ctx context.Context) string {
	if err := s.deps.Backend.StopStream(ctx); err != nil {
		return s.failure(ctx, "stop_stream", err)
	}
	return "Successfully stopped stream"
}

// Switch changes the current scene to the argument.
func (s *Set) Switch(ctx context.Context, req chat.Request) string {
	if req.Arg == "" {
		return "Error no scene name"
	}
	if err := s.deps.Backend.SetScene(ctx, req.Arg); err != nil {
		return s.failure(ctx, "set_scene", err)
	}
	return fmt.Sprintf("Scene successfully switched to \"%s\"", req.Arg)
}

// Bitrate reports the current bitrate.
func (s *Set) Bitrate(context.Context, chat.Request) string {
	return chat.FormatBitrate(s.deps.Backend.Bitrate())
}

// Info reports the current scene and bitrate.
func (s *Set) Info(context.Context, chat.Request) string {
	return fmt.Sprintf("Current scene: %s and bitrate: %d Kbps", s.deps.Backend.CurrentScene(), s.deps.Backend.Bitrate())
}

// Refresh flips to the refresh scene and back after the configured delay. Requests made
// while a refresh is in flight are ignored, as are requests after the scheduler stopped.
func (s *Set) Refresh(ctx context.Context, req chat.Request) string {
	if !s.refreshing.CompareAndSwap(false, true) {
		slog.Debug("commands: refresh already in progress", slog.String("component", "commands"))
		return ""
	}
	lifetime := s.deps.Scheduler.Context()
	if lifetime.Err() != nil {
		s.refreshing.Store(false)
		return ""
	}
	if err := s.deps.Backend.SetScene(ctx, s.deps.Scenes.Refresh); err != nil {
		s.refreshing.Store(false)
		return s.failure(ctx, "set_scene", err)
	}
	// Stop drops the restore task; release the guard with it.
	release := context.AfterFunc(lifetime, func() { s.refreshing.Store(false) })
	s.deps.Scheduler.After(s.deps.RefreshSceneInterval, func(ctx context.Context) {
		defer release()
		defer s.refreshing.Store(false)
		if err := s.deps.Backend.SetScene(ctx, s.deps.Scenes.Normal); err != nil {
			if req.Say != nil {
				req.Say(ctx, s.failure(ctx, "set_scene", err))
			}
			return
		}
		if req.Say != nil {
			req.Say(ctx, "Refreshing stream completed")
		}
	})
	return "Refreshing stream"
}

// Refreshing reports whether a refresh is in flight.
func (s *Set) Refreshing() bool { return s.refreshing.Load() }

func (s *Set) failure(ctx context.Context, operation string, err error) string {
	telemetry.IncBackendFailure(operation)
	telemetry.LoggerWithCorr(ctx).Warn("commands: backend call failed",
		slog.String("operation", operation),
		slog.Any("err", err),
		slog.String("component", "commands"))
	return "Error " + err.Error()
}
