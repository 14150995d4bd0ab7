package chat

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs one-shot deferred tasks that belong to a session. Stop cancels every
// pending task and waits for running ones, so nothing fires against a closed session.
type Scheduler struct {
	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[uint64]clockwork.Timer
	nextID  uint64
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler returns a scheduler driven by clock.
func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:  clock,
		ctx:    ctx,
		cancel: cancel,
		timers: make(map[uint64]clockwork.Timer),
	}
}

// After runs fn once d has elapsed. fn receives a context that is cancelled by Stop.
// The returned func cancels the task and reports whether it was still pending.
func (s *Scheduler) After(d time.Duration, fn func(ctx context.Context)) (cancel func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() bool { return false }
	}

	s.nextID++
	id := s.nextID
	s.wg.Add(1)
	s.timers[id] = s.clock.AfterFunc(d, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.timers, id)
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		fn(s.ctx)
	})

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		t, ok := s.timers[id]
		if !ok || !t.Stop() {
			return false
		}
		delete(s.timers, id)
		s.wg.Done()
		return true
	}
}

// Context is cancelled once Stop is called.
func (s *Scheduler) Context() context.Context { return s.ctx }

// Pending returns the number of tasks that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels all pending tasks and waits for running ones to return.
// It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		if t.Stop() {
			delete(s.timers, id)
			s.wg.Done()
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
