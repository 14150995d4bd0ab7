package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/obs-chat-relay/backend"
	"github.com/onnwee/obs-chat-relay/chat"
)

// RateStater answers limiter snapshots; *chat.Session implements it.
type RateStater interface {
	RateState(ctx context.Context) (chat.RateState, error)
}

// AuditReader lists recently audited commands; *db.AuditStore implements it.
type AuditReader interface {
	RecentCommands(ctx context.Context, channel string, limit int) ([]chat.AuditRecord, error)
}

// Check is one named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the collaborators the handlers report on. Nil members are omitted from output.
type Deps struct {
	Channel  string
	Commands []string
	Session  RateStater
	Backend  backend.Controller
	Audit    AuditReader
	Checks   []Check
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
