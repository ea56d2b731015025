// Package journal records the outcome of each relay cycle in SQL.
// It never stores message text and is never read back into history.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	MessageID string    `json:"message_id,omitempty"`
	State     string    `json:"state"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Model     string    `json:"model,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

type Journal struct {
	db      *sql.DB
	dialect dialect
}

// Open picks the driver from the DSN: postgres:// and postgresql:// use
// lib/pq, sqlite: and file: use modernc sqlite.
func Open(ctx context.Context, dsn string) (*Journal, error) {
	driver, conn, d, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, conn)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	if d == dialectSQLite {
		// Single writer; also keeps :memory: databases on one connection.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}

	j := &Journal{db: db, dialect: d}
	if err := j.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func parseDSN(dsn string) (driver, conn string, d dialect, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, dialectPostgres, nil
	case strings.HasPrefix(dsn, "sqlite:"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite:"), dialectSQLite, nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite", dsn, dialectSQLite, nil
	}
	return "", "", 0, errors.New("journal: unsupported dsn, want postgres://, sqlite: or file:")
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate(ctx context.Context) error {
	idCol := "BIGSERIAL PRIMARY KEY"
	if j.dialect == dialectSQLite {
		idCol = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	_, err := j.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS relay_journal (
			id          `+idCol+`,
			session_id  TEXT NOT NULL,
			message_id  TEXT NOT NULL DEFAULT '',
			state       TEXT NOT NULL,
			error_kind  TEXT NOT NULL DEFAULT '',
			endpoint    TEXT NOT NULL DEFAULT '',
			model       TEXT NOT NULL DEFAULT '',
			latency_ms  BIGINT NOT NULL DEFAULT 0,
			created_at  BIGINT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	return nil
}

// rebind turns ? placeholders into $n for postgres.
func (j *Journal) rebind(q string) string {
	if j.dialect != dialectPostgres {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, j.rebind(`
		INSERT INTO relay_journal (session_id, message_id, state, error_kind, endpoint, model, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`),
		e.SessionID,
		e.MessageID,
		e.State,
		e.ErrorKind,
		e.Endpoint,
		e.Model,
		e.LatencyMS,
		e.CreatedAt.UnixMilli(),
	)
	return err
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, j.rebind(`
		SELECT id, session_id, message_id, state, error_kind, endpoint, model, latency_ms, created_at
		FROM relay_journal
		ORDER BY id DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(
			&e.ID,
			&e.SessionID,
			&e.MessageID,
			&e.State,
			&e.ErrorKind,
			&e.Endpoint,
			&e.Model,
			&e.LatencyMS,
			&created,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries older than before and returns how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, j.rebind(`DELETE FROM relay_journal WHERE created_at < ?`), before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
