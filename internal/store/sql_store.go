// Package store persists the position snapshot and the event journal in SQLite or PostgreSQL
package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"liquidity_engine/internal/core"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS position_state (
			id INTEGER PRIMARY KEY,
			data TEXT NOT NULL,
			checksum BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_journal (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			tick_id TEXT NOT NULL DEFAULT '',
			occurred_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_journal_tick ON event_journal (tick_id)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS position_state (
			id INTEGER PRIMARY KEY,
			data TEXT NOT NULL,
			checksum BYTEA NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_journal (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			tick_id TEXT NOT NULL DEFAULT '',
			occurred_at BIGINT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_journal_tick ON event_journal (tick_id)`,
	},
}

// ErrChecksumMismatch is returned when a stored snapshot fails verification
var ErrChecksumMismatch = errors.New("checksum verification failed: data corruption detected")

// SQLStore implements core.IPositionStore and is also an event sink journaling
// every recorded event
type SQLStore struct {
	db     *sql.DB
	driver string
	logger core.ILogger
}

// Open connects, verifies the connection and applies the schema
func Open(ctx context.Context, driver, dsn string, logger core.ILogger) (*SQLStore, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// One writer; avoids SQLITE_BUSY between the journal and snapshot writes
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if driver == DriverSQLite {
		// Enable WAL mode for crash recovery
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &SQLStore{db: db, driver: driver, logger: logger.WithField("component", "sql_store")}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("Store ready", "driver", driver)
	return s, nil
}

// EnsureSchema creates the tables if they do not exist
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemas[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) SavePosition(ctx context.Context, pos core.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	// Round-trip before committing
	var check core.Position
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("position validation failed: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := s.rebind(`INSERT INTO position_state (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data, checksum = excluded.checksum, updated_at = excluded.updated_at`)
	if _, err := tx.ExecContext(ctx, query, string(data), checksum[:], time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to write position: %w", err)
	}

	return tx.Commit()
}

// LoadPosition returns nil, nil when nothing has been saved yet
func (s *SQLStore) LoadPosition(ctx context.Context) (*core.Position, error) {
	var data string
	var stored []byte
	err := s.db.QueryRowContext(ctx, `SELECT data, checksum FROM position_state WHERE id = 1`).Scan(&data, &stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read position: %w", err)
	}

	computed := sha256.Sum256([]byte(data))
	if subtle.ConstantTimeCompare(stored, computed[:]) != 1 {
		return nil, ErrChecksumMismatch
	}

	var pos core.Position
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal position: %w", err)
	}
	return &pos, nil
}

// AppendEvent journals one event. Re-appending an id is a no-op.
func (s *SQLStore) AppendEvent(ctx context.Context, e core.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	query := s.rebind(`INSERT INTO event_journal (id, type, tick_id, occurred_at, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, query, e.ID, string(e.Type), e.TickID, e.Timestamp.UnixNano(), string(data)); err != nil {
		return fmt.Errorf("failed to append event %s: %w", e.ID, err)
	}
	return nil
}

// Events returns up to limit of the newest journaled events, oldest first.
// A limit <= 0 returns everything.
func (s *SQLStore) Events(ctx context.Context, limit int) ([]core.Event, error) {
	query := `SELECT data FROM event_journal ORDER BY occurred_at DESC, seq DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	out, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// EventsByTick returns the events recorded under one tick or operator call
func (s *SQLStore) EventsByTick(ctx context.Context, tickID string) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT data FROM event_journal WHERE tick_id = ? ORDER BY occurred_at, seq`), tickID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]core.Event, error) {
	defer rows.Close()
	var out []core.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var e core.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Name and Consume make the store an event sink
func (s *SQLStore) Name() string {
	return "journal"
}

func (s *SQLStore) Consume(ctx context.Context, e core.Event) error {
	return s.AppendEvent(ctx, e)
}

// Ping reports database reachability for health checks
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
