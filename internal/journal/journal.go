// Package journal persists lifecycle events to the lifecycle_events table
// so connection history survives restarts.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/brokerlink/internal/session"
)

// timeLayout sorts lexically, unlike RFC3339Nano which trims zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one stored lifecycle event.
type Entry struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Type      string        `json:"type"`
	Endpoint  string        `json:"endpoint,omitempty"`
	Attempt   int           `json:"attempt"`
	Delay     time.Duration `json:"delay"`
	Topic     string        `json:"topic,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	SessionID string // optional: one process run
	Type      string // optional: kebab-case event name
	Endpoint  string // optional: host:port
	Since     time.Time
	Limit     int // default 50, max 500
}

// Logger defines the logging interface used by the journal.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal writes and reads lifecycle entries.
//
// Every Journal gets a fresh session ID, so entries from different runs
// can be told apart.
type Journal struct {
	db        *sql.DB
	sessionID string
	logger    Logger
	now       func() time.Time
}

// New creates a Journal over db. The lifecycle_events table must exist.
func New(db *sql.DB, logger Logger) *Journal {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Journal{
		db:        db,
		sessionID: uuid.NewString(),
		logger:    logger,
		now:       time.Now,
	}
}

// SessionID returns the identifier stamped on entries written by this
// Journal.
func (j *Journal) SessionID() string {
	return j.sessionID
}

// Record stores ev and returns the new entry.
func (j *Journal) Record(ctx context.Context, ev session.Event) (*Entry, error) {
	e := &Entry{
		ID:        "evt-" + uuid.NewString(),
		SessionID: j.sessionID,
		Type:      ev.Type.String(),
		Endpoint:  ev.Endpoint,
		Attempt:   ev.Attempt,
		Delay:     ev.Delay,
		Topic:     ev.Topic,
		CreatedAt: ev.Time.UTC(),
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	if ev.Time.IsZero() {
		e.CreatedAt = j.now().UTC()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (id, session_id, event_type, endpoint, attempt, delay_ms, topic, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Type,
		nullableString(e.Endpoint), e.Attempt, e.Delay.Milliseconds(),
		nullableString(e.Topic), nullableString(e.Error),
		e.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting lifecycle event: %w", err)
	}
	return e, nil
}

// nullableString maps "" to NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, most recent first.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}

	var conditions []string
	var args []any
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Type != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Endpoint != "" {
		conditions = append(conditions, "endpoint = ?")
		args = append(args, filter.Endpoint)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, session_id, event_type, endpoint, attempt, delay_ms, topic, error, created_at
		 FROM lifecycle_events %s ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		where,
	)
	args = append(args, filter.Limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying lifecycle events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var endpoint, topic, errText sql.NullString
		var delayMS int64
		var createdAt string

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Type, &endpoint, &e.Attempt,
			&delayMS, &topic, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning lifecycle event: %w", err)
		}
		e.Endpoint = endpoint.String
		e.Topic = topic.String
		e.Error = errText.String
		e.Delay = time.Duration(delayMS) * time.Millisecond

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing lifecycle event timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lifecycle events: %w", err)
	}
	return entries, nil
}

// Recent returns the latest entries of the current session.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.List(ctx, Filter{SessionID: j.sessionID, Limit: limit})
}

// Prune deletes entries older than the retention window and returns how
// many were removed. A non-positive retention keeps everything.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := j.now().Add(-retention).UTC().Format(timeLayout)
	res, err := j.db.ExecContext(ctx, "DELETE FROM lifecycle_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning lifecycle events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned lifecycle events: %w", err)
	}
	return n, nil
}

// Run records every event from events until ctx is cancelled or events is
// closed. Write failures are logged and do not stop the loop.
func (j *Journal) Run(ctx context.Context, events <-chan session.Event) {
	j.logger.Info("lifecycle journal started", "session_id", j.sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := j.Record(ctx, ev); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				j.logger.Error("recording lifecycle event failed",
					"event", ev.Type.String(),
					"error", err,
				)
			}
		}
	}
}
