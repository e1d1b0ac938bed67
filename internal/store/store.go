// Package store persists monitoring sessions and their logged events in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrUnknownSession is returned for session ids that were never opened
var ErrUnknownSession = errors.New("unknown session")

// timeLayout keeps a fixed width so stored times sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// deliverTimeout bounds one Deliver insert
const deliverTimeout = 5 * time.Second

// Store is a SQLite event store
type Store struct {
	db *sql.DB
}

// SessionInfo is one row of the sessions table with its event counts
type SessionInfo struct {
	ID        string
	Source    string
	StartedAt time.Time
	EndedAt   *time.Time
	Summary   eventlog.Summary
}

// Open opens (creating if needed) the database at path and applies migrations
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	logger.Info("Store", "SQLite event store ready at %s", path)
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug("Store", "Applied migration %s (%v)", r.Source.Path, r.Duration)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenSession records the start of a session
func (s *Store) OpenSession(ctx context.Context, id, source string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, started_at, source) VALUES (?, ?, ?)`,
		id, startedAt.UTC().Format(timeLayout), source)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", id, err)
	}
	return nil
}

// CloseSession records the end of a session
func (s *Store) CloseSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		endedAt.UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("close session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return nil
}

// Name identifies the store as an event sink
func (s *Store) Name() string { return "store" }

// Deliver inserts one event
func (s *Store) Deliver(sessionID string, e eventlog.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	return s.Insert(ctx, sessionID, e)
}

// Insert stores an entry under sessionID
func (s *Store) Insert(ctx context.Context, sessionID string, e eventlog.Entry) error {
	if e.Detail == nil {
		return errors.New("entry has no detail")
	}
	var ear, details any
	if v, ok := e.EAR(); ok {
		ear = v
	}
	if d := e.Details(); d != "" {
		details = d
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, occurred_at, event_type, ear_value, details) VALUES (?, ?, ?, ?, ?)`,
		sessionID, e.Timestamp.UTC().Format(timeLayout), e.EventType(), ear, details)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Events returns the entries of a session in insertion order
func (s *Store) Events(ctx context.Context, sessionID string) ([]eventlog.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurred_at, event_type, ear_value, details FROM events WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var entries []eventlog.Entry
	for rows.Next() {
		var (
			occurred, eventType string
			ear                 sql.NullFloat64
			details             sql.NullString
		)
		if err := rows.Scan(&occurred, &eventType, &ear, &details); err != nil {
			return nil, err
		}
		ts, err := time.Parse(timeLayout, occurred)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", occurred, err)
		}
		kind, err := types.ParseAlertKind(eventType)
		if err != nil {
			return nil, err
		}

		var d eventlog.Detail
		switch kind {
		case types.Drowsiness:
			d = eventlog.Drowsiness{EAR: ear.Float64}
		case types.Yawning:
			d = eventlog.Yawning{Reason: details.String}
		case types.PhoneUsage:
			d = eventlog.PhoneUsage{Reason: details.String}
		}
		entries = append(entries, eventlog.Entry{Timestamp: ts.Local(), Detail: d})
	}
	return entries, rows.Err()
}

// Summary counts a session's events per kind
func (s *Store) Summary(ctx context.Context, sessionID string) (eventlog.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events WHERE session_id = ? GROUP BY event_type`,
		sessionID)
	if err != nil {
		return eventlog.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var sum eventlog.Summary
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return sum, err
		}
		addCount(&sum, eventType, n)
	}
	return sum, rows.Err()
}

// Sessions lists all sessions, newest first, with per-kind counts
func (s *Store) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.source, s.started_at, s.ended_at, e.event_type, COUNT(e.id)
		FROM sessions s LEFT JOIN events e ON e.session_id = s.id
		GROUP BY s.id, e.event_type
		ORDER BY s.started_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			id, source, started string
			ended, eventType    sql.NullString
			n                   int
		)
		if err := rows.Scan(&id, &source, &started, &ended, &eventType, &n); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			info := SessionInfo{ID: id, Source: source}
			if info.StartedAt, err = parseTime(started); err != nil {
				return nil, err
			}
			if ended.Valid {
				t, err := parseTime(ended.String)
				if err != nil {
					return nil, err
				}
				info.EndedAt = &t
			}
			out = append(out, info)
		}
		if eventType.Valid {
			addCount(&out[len(out)-1].Summary, eventType.String, n)
		}
	}
	return out, rows.Err()
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.Local(), nil
}

func addCount(sum *eventlog.Summary, eventType string, n int) {
	kind, err := types.ParseAlertKind(eventType)
	if err != nil {
		logger.Warn("Store", "Ignoring unknown event type %q", eventType)
		return
	}
	sum.ByKind[kind] += n
	sum.Total += n
}
