package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/obs-chat-relay/telemetry"
)

const (
	defaultHandlerTimeout = 10 * time.Second
	sendTimeout           = 5 * time.Second
)

// ErrSessionNotRunning is returned by queries made while the event loop is not running.
var ErrSessionNotRunning = errors.New("chat session not running")

// LineSender writes one protocol line to the chat transport. Implementations must be safe
// for concurrent use.
type LineSender interface {
	SendLine(ctx context.Context, line string) error
}

// AuditRecord describes one dispatched command.
type AuditRecord struct {
	CorrelationID string
	Channel       string
	Username      string
	Command       string
	Arg           string
	Reply         string
	Duration      time.Duration
	At            time.Time
}

// Auditor persists dispatched commands. Failures are logged and otherwise ignored.
type Auditor interface {
	RecordCommand(ctx context.Context, rec AuditRecord) error
}

// SessionConfig wires a Session.
type SessionConfig struct {
	Channel        string
	Router         *Router
	Sender         LineSender
	Scheduler      *Scheduler
	Auditor        Auditor
	HandlerTimeout time.Duration
}

// Session is the single-threaded event loop between the transport and the command
// handlers. Parsing, routing and limiter updates happen on the loop goroutine; handlers run
// on their own goroutines so a slow backend never stalls the loop.
type Session struct {
	channel        string
	router         *Router
	sender         LineSender
	scheduler      *Scheduler
	auditor        Auditor
	handlerTimeout time.Duration

	queries  chan chan RateState
	inflight sync.WaitGroup
	stopOnce sync.Once
}

// NewSession builds a session for one chat channel.
func NewSession(cfg SessionConfig) *Session {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler(nil)
	}
	channel := cfg.Channel
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}
	return &Session{
		channel:        strings.ToLower(channel),
		router:         cfg.Router,
		sender:         cfg.Sender,
		scheduler:      cfg.Scheduler,
		auditor:        cfg.Auditor,
		handlerTimeout: cfg.HandlerTimeout,
		queries:        make(chan chan RateState),
	}
}

// Channel returns the channel this session replies to, including the sigil.
func (s *Session) Channel() string { return s.channel }

// Run processes lines until ctx is done or lines is closed. On return every pending
// deferred task is cancelled and in-flight handlers have finished.
func (s *Session) Run(ctx context.Context, lines <-chan string) error {
	defer s.shutdown()
	slog.Info("chat session started", slog.String("channel", s.channel), slog.String("component", "chat"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				slog.Info("chat transport closed", slog.String("component", "chat"))
				return nil
			}
			s.HandleLine(ctx, line)
		case reply := <-s.queries:
			reply <- s.router.Limiter().State()
		}
	}
}

// RateState asks the running loop for a limiter snapshot.
func (s *Session) RateState(ctx context.Context) (RateState, error) {
	reply := make(chan RateState, 1)
	select {
	case s.queries <- reply:
	case <-ctx.Done():
		return RateState{}, ErrSessionNotRunning
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return RateState{}, ErrSessionNotRunning
	}
}

func (s *Session) shutdown() {
	s.stopOnce.Do(func() {
		s.scheduler.Stop()
		s.inflight.Wait()
		slog.Info("chat session stopped", slog.String("channel", s.channel), slog.String("component", "chat"))
	})
}

// HandleLine processes one raw line. It must only be called from the loop goroutine
// (Run), or from tests that own the session exclusively.
func (s *Session) HandleLine(ctx context.Context, line string) Outcome {
	telemetry.IncLinesReceived()
	msg := Parse(line)

	switch msg.Command {
	case CommandPing:
		s.send(ctx, "PONG :"+msg.Text)
		telemetry.IncPingsAnswered()
		return Outcome{Kind: NotACommand}
	case CommandPrivmsg:
	default:
		telemetry.IncLinesIgnored()
		slog.Debug("chat: ignored line", slog.String("raw", strings.TrimSpace(line)), slog.String("component", "chat"))
		return Outcome{Kind: NotACommand}
	}

	out := s.router.Route(msg)
	switch out.Kind {
	case Unauthorized:
		telemetry.IncRejected("unauthorized")
		slog.Debug("chat: command not authorized",
			slog.String("command", out.Name),
			slog.String("user", msg.Username),
			slog.String("class", out.Class.String()),
			slog.String("component", "chat"))
	case UnknownCommand:
		telemetry.IncRejected("unknown")
		slog.Info("chat: unknown command", slog.String("command", out.Name), slog.String("user", msg.Username), slog.String("component", "chat"))
	case Dispatched:
		telemetry.IncDispatched(out.Name)
		telemetry.SetBurstCount(s.router.Limiter().State().BurstCount)
		s.dispatch(ctx, msg, out)
	}
	return out
}

func (s *Session) dispatch(ctx context.Context, msg Message, out Outcome) {
	corr := uuid.NewString()
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()

		hctx, cancel := context.WithTimeout(telemetry.WithCorrelation(ctx, corr), s.handlerTimeout)
		defer cancel()
		hctx, span := telemetry.StartSpan(hctx, "chat", "command "+out.Name, telemetry.CommandAttrs(out.Name, msg.Username, out.Arg)...)
		defer span.End()
		log := telemetry.LoggerWithCorr(hctx)

		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("handler %q panicked: %v", out.Name, r)
				telemetry.RecordError(span, err)
				log.Error("chat: command handler panic", slog.Any("err", err), slog.String("component", "chat"))
			}
		}()

		var reply string
		d := telemetry.TimeFunc(telemetry.HandlerDuration, func() {
			reply = out.Command.Handler.Handle(hctx, Request{Arg: out.Arg, User: msg.Username, Say: s.Say})
		})
		if reply != "" {
			// hctx may already be past its deadline when the backend timed out.
			s.Say(context.WithoutCancel(hctx), reply)
		}
		telemetry.SetSpanSuccess(span)
		log.Info("chat: executed command",
			slog.String("command", out.Name),
			slog.String("user", msg.Username),
			slog.Duration("took", d),
			slog.String("component", "chat"))

		s.audit(hctx, AuditRecord{
			CorrelationID: corr,
			Channel:       s.channel,
			Username:      msg.Username,
			Command:       out.Name,
			Arg:           out.Arg,
			Reply:         reply,
			Duration:      d,
			At:            time.Now().UTC(),
		})
	}()
}

func (s *Session) audit(ctx context.Context, rec AuditRecord) {
	if s.auditor == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	if err := s.auditor.RecordCommand(actx, rec); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("chat: audit write failed", slog.Any("err", err), slog.String("component", "chat"))
	}
}

// Say posts text to the session's channel. Transport failures are logged, never returned.
func (s *Session) Say(ctx context.Context, text string) {
	text = strings.Join(strings.Fields(strings.NewReplacer("\r", " ", "\n", " ").Replace(text)), " ")
	if text == "" {
		return
	}
	s.send(ctx, "PRIVMSG "+s.channel+" :"+text)
}

func (s *Session) send(ctx context.Context, line string) {
	sctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.sender.SendLine(sctx, line); err != nil {
		slog.Warn("chat: send failed", slog.Any("err", err), slog.String("component", "chat"))
	}
}

// Wait blocks until all in-flight handlers have returned.
func (s *Session) Wait() { s.inflight.Wait() }
