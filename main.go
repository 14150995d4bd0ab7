// Command obs-chat-relay bridges a Twitch chat channel and an OBS instance.
// It:
//   - Loads configuration and initializes structured logging, metrics and tracing.
//   - Optionally connects to Postgres and migrates the command audit table.
//   - Connects to OBS over obs-websocket and to chat over the selected transport.
//   - Routes chat commands to stream-control handlers and relays OBS events into chat.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM; any component failing stops the others.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/obs-chat-relay/chat"
	"github.com/onnwee/obs-chat-relay/commands"
	"github.com/onnwee/obs-chat-relay/config"
	"github.com/onnwee/obs-chat-relay/db"
	"github.com/onnwee/obs-chat-relay/obs"
	"github.com/onnwee/obs-chat-relay/server"
	"github.com/onnwee/obs-chat-relay/telemetry"
	"github.com/onnwee/obs-chat-relay/transport"
)

var errChatClosed = errors.New("chat connection closed")

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("chat not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("obs-chat-relay", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("relay stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func setupLogging() {
	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

func run(ctx context.Context, cfg *config.Config) error {
	clock := clockwork.NewRealClock()

	var (
		database *sql.DB
		audit    *db.AuditStore
	)
	if cfg.AuditEnabled() {
		var err error
		database, err = openAuditDB(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		audit = &db.AuditStore{DB: database}
	} else {
		slog.Info("command audit disabled (DB_DSN not set)", slog.String("component", "db"))
	}

	obsClient, err := obs.Dial(ctx, obs.Config{
		URL:                 cfg.OBSURL,
		Password:            cfg.OBSPassword,
		RequestTimeout:      cfg.OBSRequestTimeout,
		BitratePollInterval: cfg.BitratePollInterval,
		Scenes: obs.Scenes{
			Normal:     cfg.NormalScene,
			LowBitrate: cfg.LowBitrateScene,
			Offline:    cfg.OfflineScene,
		},
	}, clock)
	if err != nil {
		return err
	}

	chatConn, err := transport.New(cfg, clock)
	if err != nil {
		return err
	}

	scenes := chat.SceneNames{
		Normal:     cfg.NormalScene,
		LowBitrate: cfg.LowBitrateScene,
		Offline:    cfg.OfflineScene,
		Refresh:    cfg.RefreshScene,
	}
	scheduler := chat.NewScheduler(clock)
	registry := chat.NewRegistry()
	if _, err := commands.Register(registry, commands.Deps{
		Backend:                  obsClient,
		Scheduler:                scheduler,
		Scenes:                   scenes,
		StopStreamOnHostInterval: cfg.StopStreamOnHostInterval,
		StopStreamOnRaidInterval: cfg.StopStreamOnRaidInterval,
		RefreshSceneInterval:     cfg.RefreshSceneInterval,
	}); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	router := chat.NewRouter(registry, chat.NewRateLimiter(clock, chat.RateLimits{}), chat.Policy{
		Admins:               chat.AdminSet(cfg.AdminUsers),
		EnablePublicCommands: cfg.EnablePublicCommands,
		EnableModCommands:    cfg.EnableModCommands,
	})
	sessionCfg := chat.SessionConfig{
		Channel:        cfg.TwitchChannel,
		Router:         router,
		Sender:         chatConn,
		Scheduler:      scheduler,
		HandlerTimeout: cfg.HandlerTimeout,
	}
	if audit != nil {
		sessionCfg.Auditor = audit
	}
	session := chat.NewSession(sessionCfg)
	bridge := chat.NewEventBridge(session, obsClient, scenes)

	deps := server.Deps{
		Channel:  session.Channel(),
		Commands: registry.Names(),
		Session:  session,
		Backend:  obsClient,
		Checks: []server.Check{
			{Name: "chat", Fn: connected("chat transport", chatConn.Connected)},
			{Name: "obs", Fn: connected("obs", obsClient.Connected)},
		},
	}
	if audit != nil {
		deps.Audit = audit
		deps.Checks = append(deps.Checks, server.Check{Name: "database", Fn: database.PingContext})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return obsClient.Run(gctx) })
	g.Go(func() error {
		err := chatConn.Run(gctx)
		if err == nil && gctx.Err() == nil {
			return errChatClosed
		}
		return err
	})
	g.Go(func() error { return session.Run(gctx, chatConn.Lines()) })
	g.Go(func() error {
		bridge.Run(gctx, obsClient.Events())
		return nil
	})
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, server.NewMux(deps)) })

	slog.Info("relay started",
		slog.String("channel", session.Channel()),
		slog.String("transport", cfg.ChatTransport),
		slog.String("obs", cfg.OBSURL),
		slog.Any("commands", registry.Names()))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openAuditDB connects and migrates, preferring versioned migrations and falling back to
// the embedded idempotent schema.
func openAuditDB(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			database.Close()
			return nil, fmt.Errorf("migrate audit schema: %w", err)
		}
	}
	return database, nil
}

func connected(name string, up func() bool) func(context.Context) error {
	return func(context.Context) error {
		if !up() {
			return fmt.Errorf("%s not connected", name)
		}
		return nil
	}
}
