// Package db provides the Postgres connection helper, schema migration, and the command audit store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/obs-chat-relay/chat"
)

// ErrNoDSN is returned by Connect when no DSN is configured.
var ErrNoDSN = errors.New("db: empty DSN")

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return database, nil
}

// Migrate applies the idempotent schema directly. RunMigrations is preferred; this is the
// fallback when the versioned migrations cannot be loaded.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS command_audit (
			id BIGSERIAL PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			username TEXT NOT NULL,
			command TEXT NOT NULL,
			arg TEXT NOT NULL DEFAULT '',
			reply TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_command_audit_channel_time ON command_audit(channel, executed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_command_audit_correlation ON command_audit(correlation_id)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// AuditStore persists dispatched chat commands.
type AuditStore struct {
	DB *sql.DB
}

var _ chat.Auditor = (*AuditStore)(nil)

// RecordCommand inserts one audit row.
func (s *AuditStore) RecordCommand(ctx context.Context, rec chat.AuditRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO command_audit (correlation_id, channel, username, command, arg, reply, duration_ms, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.CorrelationID, rec.Channel, rec.Username, rec.Command, rec.Arg, rec.Reply, rec.Duration.Milliseconds(), at)
	if err != nil {
		return fmt.Errorf("insert command_audit: %w", err)
	}
	return nil
}

// RecentCommands returns the newest audit rows for channel, newest first.
func (s *AuditStore) RecentCommands(ctx context.Context, channel string, limit int) ([]chat.AuditRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT correlation_id, channel, username, command, arg, reply, duration_ms, executed_at
		 FROM command_audit WHERE channel = $1 ORDER BY executed_at DESC, id DESC LIMIT $2`,
		channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query command_audit: %w", err)
	}
	defer rows.Close()

	var out []chat.AuditRecord
	for rows.Next() {
		var (
			rec chat.AuditRecord
			ms  int64
		)
		if err := rows.Scan(&rec.CorrelationID, &rec.Channel, &rec.Username, &rec.Command, &rec.Arg, &rec.Reply, &ms, &rec.At); err != nil {
			return nil, fmt.Errorf("scan command_audit: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
