package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/agent-overlay/monitor/internal/session"
)

//go:embed schema.sql
var schema string

// timeLayout has a fixed-width fractional part so that stored timestamps
// sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const defaultMaxOpenConns = 5

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Its directory is created if
	// missing.
	Path string

	// MaxOpenConns bounds the connection pool. Defaults to 5.
	MaxOpenConns int

	Logger *logrus.Entry

	// Now overrides the wall clock. Tests use it to age rows past the
	// retention window.
	Now func() time.Time
}

// Store persists sessions, agents and events in SQLite. It is safe for
// concurrent use; atomicity of guarded transitions comes from SQLite's
// single-statement updates, not from locks held here.
type Store struct {
	db     *sql.DB
	logger *logrus.Entry
	now    func() time.Time

	clockMu sync.Mutex
	last    time.Time
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("store: create db dir: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = logrus.NewEntry(discard)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}

	// WAL gives concurrent readers with a single writer; immediate
	// transactions take the write lock up front so busy_timeout applies
	// instead of failing on lock upgrade.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"path":           cfg.Path,
		"max_open_conns": maxOpen,
	}).Info("Store opened")

	return &Store{db: db, logger: logger, now: now}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertSession inserts the session or, if it exists, overwrites its
// project fields and status. created_at is never changed.
func (s *Store) UpsertSession(ctx context.Context, sessionID, projectPath, projectName string, status session.Status) error {
	now := formatTime(s.timestamp())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, session_id, project_path, project_name, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	project_path = excluded.project_path,
	project_name = excluded.project_name,
	status = excluded.status,
	updated_at = excluded.updated_at
`, uuid.NewString(), sessionID, projectPath, projectName, status.String(), now, now)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sessionID, err)
	}
	return nil
}

// UpsertAgent is UpsertSession for the (sessionID, agentName) agent row.
func (s *Store) UpsertAgent(ctx context.Context, sessionID, agentName string, parentSessionID *string, status session.Status) error {
	now := formatTime(s.timestamp())
	var parent any
	if parentSessionID != nil {
		parent = *parentSessionID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO agents (id, session_id, agent_name, parent_session_id, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, agent_name) DO UPDATE SET
	parent_session_id = excluded.parent_session_id,
	status = excluded.status,
	updated_at = excluded.updated_at
`, uuid.NewString(), sessionID, agentName, parent, status.String(), now, now)
	if err != nil {
		return fmt.Errorf("upsert agent %s/%s: %w", sessionID, agentName, err)
	}
	return nil
}

// CompareAndSwapSessionStatus sets the session status to `to` only if it is
// currently `from`. It reports whether the row changed.
func (s *Store) CompareAndSwapSessionStatus(ctx context.Context, sessionID string, from, to session.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET status = ?, updated_at = ?
WHERE session_id = ? AND status = ?
`, to.String(), formatTime(s.timestamp()), sessionID, from.String())
	if err != nil {
		return false, fmt.Errorf("swap session %s status %s->%s: %w", sessionID, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap session %s status: %w", sessionID, err)
	}
	return n > 0, nil
}

// CompareAndSwapAgentStatus moves every agent of the session that is
// currently `from` to `to`, returning how many rows changed.
func (s *Store) CompareAndSwapAgentStatus(ctx context.Context, sessionID string, from, to session.Status) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE agents SET status = ?, updated_at = ?
WHERE session_id = ? AND status = ?
`, to.String(), formatTime(s.timestamp()), sessionID, from.String())
	if err != nil {
		return 0, fmt.Errorf("swap agents of %s status %s->%s: %w", sessionID, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("swap agents of %s status: %w", sessionID, err)
	}
	return n, nil
}

// MarkCompleted unconditionally completes the session and all of its
// agents.
func (s *Store) MarkCompleted(ctx context.Context, sessionID string) error {
	now := formatTime(s.timestamp())
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = 'completed', updated_at = ? WHERE session_id = ?`, now, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE agents SET status = 'completed', updated_at = ? WHERE session_id = ?`, now, sessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark session %s completed: %w", sessionID, err)
	}
	return nil
}

// InsertEvent appends an entry to the event log. Every call gets a fresh
// row id, so identical content is never rejected.
func (s *Store) InsertEvent(ctx context.Context, sessionID, agentName, eventType string, payload []byte) error {
	var agent any
	if agentName != "" {
		agent = agentName
	}
	if len(payload) == 0 {
		payload = session.EmptyPayload
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events (id, session_id, agent_name, event_type, payload, timestamp)
VALUES (?, ?, ?, ?, ?, ?)
`, uuid.NewString(), sessionID, agent, eventType, string(payload), formatTime(s.timestamp()))
	if err != nil {
		return fmt.Errorf("insert %s event for %s: %w", eventType, sessionID, err)
	}
	return nil
}

// SessionEvents returns the event log of one session, oldest first.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]session.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, agent_name, event_type, payload, timestamp
FROM events
WHERE session_id = ?
ORDER BY timestamp ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events of %s: %w", sessionID, err)
	}
	defer rows.Close()

	events := []session.Event{}
	for rows.Next() {
		var (
			ev        session.Event
			agent     sql.NullString
			payload   string
			timestamp string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &agent, &ev.EventType, &payload, &timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.AgentName = nullableString(agent)
		ev.Payload = []byte(payload)
		if ev.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

const sessionColumns = `
SELECT s.id, s.session_id, s.project_path, s.project_name, s.status, s.created_at, s.updated_at,
	a.id, a.agent_name, a.parent_session_id, a.status, a.created_at, a.updated_at
FROM sessions s
LEFT JOIN agents a ON a.session_id = s.session_id
`

// ActiveSessions returns every session that is not completed, newest
// first, each with its agents in creation order. The read is a single
// statement so it sees one consistent state.
func (s *Store) ActiveSessions(ctx context.Context) ([]session.SessionView, error) {
	rows, err := s.db.QueryContext(ctx, sessionColumns+`
WHERE s.status != 'completed'
ORDER BY s.created_at DESC, s.id, a.created_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	views, err := scanViews(rows)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	return views, nil
}

// GetSession returns one session regardless of status.
func (s *Store) GetSession(ctx context.Context, sessionID string) (session.SessionView, bool, error) {
	rows, err := s.db.QueryContext(ctx, sessionColumns+`
WHERE s.session_id = ?
ORDER BY a.created_at ASC
`, sessionID)
	if err != nil {
		return session.SessionView{}, false, fmt.Errorf("query session %s: %w", sessionID, err)
	}
	defer rows.Close()

	views, err := scanViews(rows)
	if err != nil {
		return session.SessionView{}, false, fmt.Errorf("session %s: %w", sessionID, err)
	}
	if len(views) == 0 {
		return session.SessionView{}, false, nil
	}
	return views[0], true, nil
}

// PurgeExpired deletes every completed session whose last update is older
// than ttl, together with its agents and events. Each session is removed
// in its own transaction after re-checking that it is still completed and
// still expired, so a session revived by a concurrent event survives.
// Failures on one session do not stop the others; all errors are joined.
func (s *Store) PurgeExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := formatTime(s.now().UTC().Add(-ttl))

	rows, err := s.db.QueryContext(ctx, `
SELECT session_id FROM sessions
WHERE status = 'completed' AND updated_at < ?
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query expired sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired session: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired sessions: %w", err)
	}

	var (
		purged int
		errs   []error
	)
	for _, id := range ids {
		removed, err := s.purgeSession(ctx, id, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("purge session %s: %w", id, err))
			continue
		}
		if removed {
			purged++
		}
	}
	return purged, errors.Join(errs...)
}

func (s *Store) purgeSession(ctx context.Context, sessionID, cutoff string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM sessions
WHERE session_id = ? AND status = 'completed' AND updated_at < ?
`, sessionID, cutoff).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		// Children before the parent row.
		for _, stmt := range []string{
			`DELETE FROM events WHERE session_id = ?`,
			`DELETE FROM agents WHERE session_id = ?`,
			`DELETE FROM sessions WHERE session_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
				return err
			}
		}
		removed = true
		return nil
	})
	return removed, err
}

// PurgeAll deletes every event, agent and session, keeping the tables.
func (s *Store) PurgeAll(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM events`,
			`DELETE FROM agents`,
			`DELETE FROM sessions`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("purge all: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// timestamp returns a strictly increasing UTC time so rows written in the
// same clock tick still have a total creation order.
func (s *Store) timestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}
