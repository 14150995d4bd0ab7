package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CommandPrefix marks a chat payload as a command.
const CommandPrefix = "!"

// ErrDuplicateCommand is returned when a command name is registered twice.
var ErrDuplicateCommand = errors.New("command already registered")

// Tier is the minimum trust a command requires.
type Tier int

const (
	// TierPublic commands are open to everyone when public commands are enabled.
	TierPublic Tier = iota
	// TierModerator commands are open to moderators when mod commands are enabled.
	TierModerator
	// TierOwner commands are reserved to the channel owner and admins.
	TierOwner
)

func (t Tier) String() string {
	switch t {
	case TierPublic:
		return "public"
	case TierModerator:
		return "moderator"
	case TierOwner:
		return "owner"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Request is what a handler receives for one dispatched command.
type Request struct {
	Arg  string
	User string
	// Say posts a chat line. Deferred follow-ups use it to report back.
	Say func(ctx context.Context, text string)
}

// Handler executes a command and returns the reply text ("" for no reply).
type Handler interface {
	Handle(ctx context.Context, req Request) string
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) string

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req Request) string { return f(ctx, req) }

// Command is a registry entry.
type Command struct {
	Name    string
	Tier    Tier
	Handler Handler
}

// Registry maps command names to handlers.
type Registry struct {
	commands map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command. Names are matched exactly, without the prefix.
func (r *Registry) Register(name string, tier Tier, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("register %q: name and handler are required", name)
	}
	if _, ok := r.commands[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateCommand)
	}
	r.commands[name] = Command{Name: name, Tier: tier, Handler: h}
	return nil
}

// Lookup returns the command registered under name.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// Names returns the registered command names in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	return names
}

// OutcomeKind classifies a routing decision.
type OutcomeKind int

const (
	NotACommand OutcomeKind = iota
	Unauthorized
	UnknownCommand
	Dispatched
)

func (k OutcomeKind) String() string {
	switch k {
	case NotACommand:
		return "not_a_command"
	case Unauthorized:
		return "unauthorized"
	case UnknownCommand:
		return "unknown"
	case Dispatched:
		return "dispatched"
	default:
		return "invalid"
	}
}

// Outcome is the result of routing one message.
type Outcome struct {
	Kind    OutcomeKind
	Name    string
	Arg     string
	Class   SenderClass
	Command Command
}

// Policy holds the feature switches and allow-list the router consults.
type Policy struct {
	Admins               map[string]struct{}
	EnablePublicCommands bool
	EnableModCommands    bool
}

// Router authorizes chat commands and charges the rate limiter for dispatched ones.
type Router struct {
	registry *Registry
	limiter  *RateLimiter
	policy   Policy
}

// NewRouter wires a router. The limiter is owned by the caller's event loop.
func NewRouter(registry *Registry, limiter *RateLimiter, policy Policy) *Router {
	if policy.Admins == nil {
		policy.Admins = map[string]struct{}{}
	}
	return &Router{registry: registry, limiter: limiter, policy: policy}
}

// Limiter exposes the router's limiter for status reporting.
func (r *Router) Limiter() *RateLimiter { return r.limiter }

// Route decides what to do with msg. The limiter is charged only for Dispatched, before
// the handler has a chance to run.
func (r *Router) Route(msg Message) Outcome {
	if msg.Command != CommandPrivmsg || !strings.HasPrefix(msg.Text, CommandPrefix) {
		return Outcome{Kind: NotACommand}
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(msg.Text, CommandPrefix), " ")
	out := Outcome{
		Name:  name,
		Arg:   strings.TrimSpace(arg),
		Class: Classify(msg, r.policy.Admins),
	}
	cmd, known := r.registry.Lookup(name)

	if !r.authorized(out.Class, cmd, known) {
		out.Kind = Unauthorized
		return out
	}
	if !known {
		out.Kind = UnknownCommand
		return out
	}

	r.limiter.Accept()
	out.Kind = Dispatched
	out.Command = cmd
	return out
}

func (r *Router) authorized(class SenderClass, cmd Command, known bool) bool {
	// Nobody bypasses the burst ceiling.
	if !r.limiter.BurstOpen() {
		return false
	}
	if class.Privileged() {
		return true
	}
	if !known || !r.limiter.CooldownOpen() {
		return false
	}
	switch cmd.Tier {
	case TierPublic:
		return r.policy.EnablePublicCommands
	case TierModerator:
		return r.policy.EnableModCommands && class.Has(ClassModerator)
	default:
		return false
	}
}
