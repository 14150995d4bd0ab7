package chat

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for the per-session command throttle.
const (
	DefaultBurstLimit  = 20
	DefaultBurstWindow = 30 * time.Second
	DefaultCooldown    = 2 * time.Second
)

// RateLimits configures a RateLimiter. Zero fields take the defaults.
type RateLimits struct {
	BurstLimit  int
	BurstWindow time.Duration
	Cooldown    time.Duration
}

func (l RateLimits) withDefaults() RateLimits {
	if l.BurstLimit <= 0 {
		l.BurstLimit = DefaultBurstLimit
	}
	if l.BurstWindow <= 0 {
		l.BurstWindow = DefaultBurstWindow
	}
	if l.Cooldown <= 0 {
		l.Cooldown = DefaultCooldown
	}
	return l
}

// RateState is a snapshot of the limiter.
type RateState struct {
	BurstCount      int
	BurstWindowOpen bool
	CooldownActive  bool
}

// RateLimiter enforces a burst ceiling over a window that opens on the first accepted
// command, plus a short non-stacking cooldown between commands.
//
// The window and the cooldown are single deadlines checked against the clock, so at most
// one of each is ever outstanding. A RateLimiter is not safe for concurrent use; it is
// owned by the session loop.
type RateLimiter struct {
	clock  clockwork.Clock
	limits RateLimits

	burstCount   int
	windowOpen   bool
	windowEnds   time.Time
	cooling      bool
	cooldownEnds time.Time
}

// NewRateLimiter returns a limiter reading time from clock.
func NewRateLimiter(clock clockwork.Clock, limits RateLimits) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{clock: clock, limits: limits.withDefaults()}
}

// BurstOpen reports whether another command fits in the current window.
func (r *RateLimiter) BurstOpen() bool {
	r.expire()
	return r.burstCount < r.limits.BurstLimit
}

// CooldownOpen reports whether the inter-command cooldown has elapsed.
func (r *RateLimiter) CooldownOpen() bool {
	r.expire()
	return !r.cooling
}

// Accept records an accepted command.
func (r *RateLimiter) Accept() {
	r.expire()
	now := r.clock.Now()

	r.burstCount++
	if !r.windowOpen {
		r.windowOpen = true
		r.windowEnds = now.Add(r.limits.BurstWindow)
	}
	if !r.cooling {
		r.cooling = true
		r.cooldownEnds = now.Add(r.limits.Cooldown)
	}
}

// State returns the current counters after applying any expired deadlines.
func (r *RateLimiter) State() RateState {
	r.expire()
	return RateState{
		BurstCount:      r.burstCount,
		BurstWindowOpen: r.windowOpen,
		CooldownActive:  r.cooling,
	}
}

func (r *RateLimiter) expire() {
	now := r.clock.Now()
	if r.windowOpen && !now.Before(r.windowEnds) {
		r.burstCount = 0
		r.windowOpen = false
	}
	if r.cooling && !now.Before(r.cooldownEnds) {
		r.cooling = false
	}
}
