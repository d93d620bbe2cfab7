// Package journal persists lifecycle events to a libSQL database. It is an
// observer: it subscribes to the streaming hub rather than being called from
// the routing hot path, so a slow disk never stalls the machine.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/boxos/boxcore/internal/streaming"
	"github.com/boxos/boxcore/pkg/schema"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	workflow_id INTEGER NOT NULL,
	event_id INTEGER NOT NULL DEFAULT 0,
	deck INTEGER NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL,
	payload TEXT,
	sequence INTEGER NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_workflow_seq
	ON lifecycle_events (workflow_id, sequence);
`

// Record is one persisted lifecycle event.
type Record struct {
	RunID      string
	WorkflowID uint64
	EventID    uint64
	Deck       uint8
	Type       string
	Payload    string
	Sequence   int64
	CreatedAt  time.Time
}

// Journal is the libSQL-backed lifecycle log. Every process run gets a fresh
// run identifier so restarts are distinguishable in a shared database file.
type Journal struct {
	db     *sql.DB
	runID  string
	logger *slog.Logger
}

// Open opens (or creates) the journal database at path, which should be a
// file URI such as "file:/var/lib/boxcore/journal.db".
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("libsql", path)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{
		db:     db,
		runID:  uuid.NewString(),
		logger: logger,
	}, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// RunID returns this process run's identifier.
func (j *Journal) RunID() string { return j.runID }

// Append persists one lifecycle event with a monotonically increasing
// per-workflow sequence. The transaction serializes sequence reads against
// concurrent appends.
func (j *Journal) Append(ctx context.Context, ev streaming.StreamEvent) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM lifecycle_events WHERE workflow_id = ?`,
		ev.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next journal sequence: %w", err)
	}

	var payload sql.NullString
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal journal payload: %w", err)
		}
		payload = sql.NullString{String: string(data), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO lifecycle_events (run_id, workflow_id, event_id, deck, event_type, payload, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		j.runID, ev.WorkflowID, ev.EventID, ev.Deck, ev.EventType, payload, seq,
	)
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return tx.Commit()
}

// Events returns a workflow's events with sequence > since, ordered by
// sequence. A gap in the returned sequences indicates store corruption.
func (j *Journal) Events(ctx context.Context, workflowID uint64, since int64) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT run_id, workflow_id, event_id, deck, event_type, payload, sequence, created_at
		 FROM lifecycle_events
		 WHERE workflow_id = ? AND sequence > ?
		 ORDER BY sequence ASC`,
		workflowID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payload sql.NullString
		if err := rows.Scan(&r.RunID, &r.WorkflowID, &r.EventID, &r.Deck,
			&r.Type, &payload, &r.Sequence, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		r.Payload = payload.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, r := range out {
		if r.Sequence != since+int64(i)+1 {
			return nil, schema.NewErrorf(schema.ErrStore,
				"sequence gap in workflow %d: expected %d, got %d",
				workflowID, since+int64(i)+1, r.Sequence)
		}
	}
	return out, nil
}

// Attach subscribes the journal to the hub and persists everything published
// there. The returned stop function unsubscribes and waits for the writer to
// drain.
func (j *Journal) Attach(ctx context.Context, hub streaming.EventHub) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("subscribe journal: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if err := j.Append(ctx, ev); err != nil {
				j.logger.ErrorContext(ctx, "journal append failed",
					slog.Uint64("workflow_id", ev.WorkflowID),
					slog.String("event_type", ev.EventType),
					slog.String("error", err.Error()),
				)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
