// Package journal records bus traffic in a SQLite database
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/cloud-shuttle/tundra/internal/events"
	"github.com/cloud-shuttle/tundra/internal/log"
)

// ErrUnknownMessage is returned for message kinds the journal cannot encode
var ErrUnknownMessage = errors.New("unknown message kind")

// Record is one journaled bus message
type Record struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Type      string          `json:"event_type,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	BeadID    string          `json:"bead_id,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event rebuilds the lifecycle event of an event record
func (r Record) Event() (*events.Event, bool) {
	if r.Kind != events.KindEvent {
		return nil, false
	}
	return &events.Event{
		ID:        r.ID,
		Type:      r.Type,
		AgentID:   r.AgentID,
		BeadID:    r.BeadID,
		TaskID:    r.TaskID,
		Message:   r.Message,
		Timestamp: r.Timestamp,
	}, true
}

// Query narrows a List call. Zero fields match everything.
type Query struct {
	Kind   string
	Type   string
	TaskID string
	Since  time.Time
	Limit  int
}

// Option configures a Journal
type Option func(*Journal)

// WithLogger sets the journal logger
func WithLogger(l log.Logger) Option {
	return func(j *Journal) {
		j.logger = l
	}
}

// Journal appends bus messages to SQLite
type Journal struct {
	DB     *sql.DB
	logger log.Logger
}

// Open opens the journal database at path, creating its directory
func Open(path string, opts ...Option) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(p), err)
		}
	}

	j := &Journal{DB: db, logger: log.Noop}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.WithValues(log.Kv{"svc": "journal.Journal"})

	return j, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.DB.Close()
}

// InitSchema creates the journal table
func (j *Journal) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		event_type TEXT,
		task_id TEXT,
		bead_id TEXT,
		agent_id TEXT,
		message TEXT,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_task ON messages(task_id);
	CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages(kind);
	CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
	`

	_, err := j.DB.Exec(schema)
	return err
}

// Append stores msg
func (j *Journal) Append(ctx context.Context, msg events.Message) error {
	rec, err := recordFor(msg)
	if err != nil {
		return err
	}

	_, err = j.DB.ExecContext(ctx, `
		INSERT INTO messages (id, kind, event_type, task_id, bead_id, agent_id, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Kind, rec.Type, rec.TaskID, rec.BeadID, rec.AgentID, rec.Message,
		string(rec.Payload), rec.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("appending %s message: %w", rec.Kind, err)
	}

	return nil
}

// List returns records matching q in the order they were appended
func (j *Journal) List(ctx context.Context, q Query) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, q.Kind)
	}
	if q.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, q.Type)
	}
	if q.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, q.TaskID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.UnixNano())
	}

	query := `SELECT id, kind, event_type, task_id, bead_id, agent_id, message, payload, created_at FROM messages`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY rowid ASC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := j.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			payload string
			created int64
		)
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Type, &rec.TaskID, &rec.BeadID, &rec.AgentID,
			&rec.Message, &payload, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		rec.Timestamp = time.Unix(0, created).UTC()
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Run appends every message received on sub until ctx is done or the
// subscription is closed. Append failures are logged and skipped.
func (j *Journal) Run(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.C:
			if !ok {
				j.logger.Warningf("journal subscription closed by the bus")
				return nil
			}
			if err := j.Append(ctx, msg); err != nil {
				j.logger.Errorf("could not journal message: %v", err)
			}
		}
	}
}

func recordFor(msg events.Message) (Record, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Record{}, fmt.Errorf("encoding %s message: %w", msg.Kind(), err)
	}

	rec := Record{
		ID:        uuid.New().String(),
		Kind:      msg.Kind(),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	switch m := msg.(type) {
	case *events.Event:
		rec.ID = m.ID
		rec.Type = m.Type
		rec.TaskID = m.TaskID
		rec.BeadID = m.BeadID
		rec.AgentID = m.AgentID
		rec.Message = m.Message
		rec.Timestamp = m.Timestamp
	case *events.AgentOutput:
		rec.TaskID = m.TaskID
		rec.AgentID = m.AgentID
		rec.Message = m.Output
	case *events.TaskUpdate:
		rec.TaskID = m.Task.ID
		rec.BeadID = m.Task.BeadID
		rec.Message = string(m.Task.Phase)
	case *events.StatusUpdate:
		rec.Message = fmt.Sprintf("%d agents active", m.AgentsActive)
	case *events.ErrorMessage:
		rec.Type = m.Code
		rec.Message = m.Message
	default:
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Kind())
	}

	return rec, nil
}
