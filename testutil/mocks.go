// Package testutil holds fakes shared by package tests: a scripted streaming backend, a
// recording chat line sender, and a Postgres helper.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/obs-chat-relay/backend"
)

// FakeBackend is a goroutine-safe backend.Controller that records calls.
type FakeBackend struct {
	mu sync.Mutex

	// Errors returned by the matching operation when non-nil.
	StartErr error
	StopErr  error
	SceneErr error

	scene   string
	bitrate int
	calls   []string
}

var _ backend.Controller = (*FakeBackend)(nil)

// NewFakeBackend returns a backend showing scene at kbps.
func NewFakeBackend(scene string, kbps int) *FakeBackend {
	return &FakeBackend{scene: scene, bitrate: kbps}
}

func (f *FakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

// StartStream implements backend.Controller.
func (f *FakeBackend) StartStream(context.Context) error {
	f.record("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StartErr
}

// StopStream implements backend.Controller.
func (f *FakeBackend) StopStream(context.Context) error {
	f.record("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.StopErr
}

// SetScene implements backend.Controller.
func (f *FakeBackend) SetScene(_ context.Context, name string) error {
	f.record("scene:" + name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SceneErr != nil {
		return f.SceneErr
	}
	f.scene = name
	return nil
}

// Bitrate implements backend.Controller.
func (f *FakeBackend) Bitrate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bitrate
}

// CurrentScene implements backend.Controller.
func (f *FakeBackend) CurrentScene() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scene
}

// SetBitrate changes the reported bitrate.
func (f *FakeBackend) SetBitrate(kbps int) {
	f.mu.Lock()
	f.bitrate = kbps
	f.mu.Unlock()
}

// SetSceneErr changes the error returned by SetScene.
func (f *FakeBackend) SetSceneErr(err error) {
	f.mu.Lock()
	f.SceneErr = err
	f.mu.Unlock()
}

// Calls returns the recorded operations in order, e.g. "start", "scene:live".
func (f *FakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FakeSender records outbound protocol lines.
type FakeSender struct {
	mu    sync.Mutex
	lines []string
	Err   error
	sent  chan struct{}
}

// NewFakeSender returns an empty recorder.
func NewFakeSender() *FakeSender {
	return &FakeSender{sent: make(chan struct{}, 1024)}
}

// SendLine records line.
func (s *FakeSender) SendLine(_ context.Context, line string) error {
	s.mu.Lock()
	if s.Err != nil {
		err := s.Err
		s.mu.Unlock()
		return err
	}
	s.lines = append(s.lines, line)
	s.mu.Unlock()
	select {
	case s.sent <- struct{}{}:
	default:
	}
	return nil
}

// Lines returns every recorded line.
func (s *FakeSender) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

// Privmsgs returns the text of recorded PRIVMSG lines.
func (s *FakeSender) Privmsgs() []string {
	var out []string
	for _, l := range s.Lines() {
		if !strings.HasPrefix(l, "PRIVMSG ") {
			continue
		}
		if _, text, ok := strings.Cut(l, " :"); ok {
			out = append(out, text)
		}
	}
	return out
}

// WaitFor blocks until at least n lines were sent or timeout elapses, returning the lines seen.
func (s *FakeSender) WaitFor(n int, timeout time.Duration) []string {
	deadline := time.After(timeout)
	for {
		if lines := s.Lines(); len(lines) >= n {
			return lines
		}
		select {
		case <-s.sent:
		case <-deadline:
			return s.Lines()
		}
	}
}
