// Package ledger is the durable record of per-tile failures and the
// append-only tile event log, backed by DuckDB. Failures recorded here
// survive process restarts and drive later retry passes.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/brensch/tilepull/internal/tile"
	"github.com/brensch/tilepull/internal/work"
)

// Event types recorded in the tile event log.
const (
	EventSkip       = "skip"
	EventFetchStart = "fetch_start"
	EventFetchEnd   = "fetch_end"
	EventExtractEnd = "extract_end"
	EventFailed     = "failed"
	EventCleared    = "cleared"
)

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS tile_event_id_seq;`

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tile_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('tile_event_id_seq'),
    tile_key        VARCHAR NOT NULL,
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    message         VARCHAR,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_tile_event_log_key ON tile_event_log (tile_key);
CREATE INDEX IF NOT EXISTS idx_tile_event_log_event_time ON tile_event_log (event, event_timestamp);
CREATE TABLE IF NOT EXISTS tile_failures (
    tile_key     VARCHAR PRIMARY KEY,
    kind         VARCHAR NOT NULL,
    message      VARCHAR,
    attempts     INTEGER NOT NULL DEFAULT 1,
    last_attempt TIMESTAMP NOT NULL
);
`

// Failure is one pending entry in the failure set.
type Failure struct {
	Key         tile.Key
	Kind        work.ErrorKind
	Message     string
	Attempts    int
	LastAttempt time.Time
}

// Ledger wraps a DuckDB connection. DuckDB allows a single writer, so all
// mutating operations serialize through mu.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the ledger database at path and
// initializes its schema. Use ":memory:" for an ephemeral ledger in tests.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database (%s): %w", path, err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger database (%s): %w", path, err)
	}

	if _, err := db.Exec(schemaSequenceSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		db.Close()
		return nil, fmt.Errorf("create ledger sequence: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database connection.
func (l *Ledger) Close() error { return l.db.Close() }

// Record upserts a failure for key, bumping the attempt count if the key
// was already pending.
func (l *Ledger) Record(ctx context.Context, key tile.Key, kind work.ErrorKind, message string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	query := `
        INSERT INTO tile_failures (tile_key, kind, message, attempts, last_attempt)
        VALUES (?, ?, ?, 1, ?)
        ON CONFLICT (tile_key) DO UPDATE SET
            kind = excluded.kind,
            message = excluded.message,
            attempts = tile_failures.attempts + 1,
            last_attempt = excluded.last_attempt;
    `
	if _, err := l.db.ExecContext(ctx, query, key.String(), string(kind), message, time.Now().UTC()); err != nil {
		return fmt.Errorf("record failure for %s: %w", key, err)
	}
	return nil
}

// Clear removes key from the failure set. Clearing an absent key is not an
// error.
func (l *Ledger) Clear(ctx context.Context, key tile.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.ExecContext(ctx, `DELETE FROM tile_failures WHERE tile_key = ?;`, key.String()); err != nil {
		return fmt.Errorf("clear failure for %s: %w", key, err)
	}
	return nil
}

// Pending returns every recorded failure, keyed for retry-pass selection.
func (l *Ledger) Pending(ctx context.Context) (map[tile.Key]Failure, error) {
	rows, err := l.db.QueryContext(ctx, `
        SELECT tile_key, kind, message, attempts, last_attempt
        FROM tile_failures
        ORDER BY tile_key;
    `)
	if err != nil {
		return nil, fmt.Errorf("query pending failures: %w", err)
	}
	defer rows.Close()

	pending := make(map[tile.Key]Failure)
	var scanErrs error
	for rows.Next() {
		var f Failure
		var key, kind string
		var msg sql.NullString
		if err := rows.Scan(&key, &kind, &msg, &f.Attempts, &f.LastAttempt); err != nil {
			scanErrs = errors.Join(scanErrs, fmt.Errorf("scan pending failure: %w", err))
			continue
		}
		f.Key = tile.Key(key)
		f.Kind = work.ErrorKind(kind)
		f.Message = msg.String
		pending[f.Key] = f
	}
	if err := rows.Err(); err != nil {
		scanErrs = errors.Join(scanErrs, fmt.Errorf("iterate pending failures: %w", err))
	}
	return pending, scanErrs
}

// LogEvent appends one record to the tile event log.
func (l *Ledger) LogEvent(ctx context.Context, key tile.Key, event, message string, duration *time.Duration) error {
	var durationMs sql.NullInt64
	if duration != nil {
		durationMs = sql.NullInt64{Int64: duration.Milliseconds(), Valid: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	query := `
        INSERT INTO tile_event_log (tile_key, event, event_timestamp, message, duration_ms)
        VALUES (?, ?, ?, ?, ?);
    `
	_, err := l.db.ExecContext(ctx, query,
		key.String(),
		event,
		time.Now().UTC(),
		sql.NullString{String: message, Valid: message != ""},
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("log event '%s' for %s: %w", event, key, err)
	}
	return nil
}

// DisplayHistory writes the most recent event log records to w, optionally
// filtered by event type.
func (l *Ledger) DisplayHistory(ctx context.Context, w io.Writer, eventFilter string, limit int) error {
	query := `
        SELECT tile_key, event, event_timestamp, message, duration_ms
        FROM tile_event_log
    `
	args := []any{}
	if eventFilter != "" {
		query += " WHERE event = ?"
		args = append(args, eventFilter)
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query event log: %w", err)
	}
	defer rows.Close()

	fmt.Fprintf(w, "%-10s | %-12s | %-25s | %-10s | %s\n", "Tile", "Event", "Timestamp (UTC)", "DurationMS", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	count := 0
	for rows.Next() {
		var key, event string
		var timestamp time.Time
		var message sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&key, &event, &timestamp, &message, &durationMs); err != nil {
			return fmt.Errorf("scan event log row: %w", err)
		}
		durationStr := ""
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		fmt.Fprintf(w, "%-10s | %-12s | %-25s | %-10s | %s\n",
			key, event, timestamp.Format(time.RFC3339), durationStr, message.String)
		count++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate event log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}

// DisplayPending writes the current failure set to w.
func (l *Ledger) DisplayPending(ctx context.Context, w io.Writer) error {
	pending, err := l.Pending(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%-10s | %-20s | %-8s | %-25s | %s\n", "Tile", "Kind", "Attempts", "Last Attempt (UTC)", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := pending[tile.Key(k)]
		fmt.Fprintf(w, "%-10s | %-20s | %-8d | %-25s | %s\n",
			f.Key, f.Kind, f.Attempts, f.LastAttempt.Format(time.RFC3339), f.Message)
	}
	fmt.Fprintf(w, "%d tiles pending retry.\n", len(pending))
	return nil
}
