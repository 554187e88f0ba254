package ingest

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"harvester/metrics"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DLQ reasons
const (
	ReasonDecodeFailure         = "decode_failure"
	ReasonClassificationFailure = "classification_failure"
	ReasonPublishFailure        = "publish_failure"
)

const dlqSchema = `
CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	agent_id TEXT,
	payload TEXT NOT NULL,
	error_reason TEXT NOT NULL,
	error_details TEXT,
	source_ip TEXT,
	retries INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_dlq_created_at ON dead_letter_queue(created_at);
CREATE INDEX IF NOT EXISTS idx_dlq_status ON dead_letter_queue(status);
CREATE INDEX IF NOT EXISTS idx_dlq_reason ON dead_letter_queue(error_reason);
`

// FailedEvent is an event that could not be processed
type FailedEvent struct {
	RequestID    string
	Kind         string // delta, sync or control
	AgentID      string
	Payload      []byte
	ErrorReason  string
	ErrorDetails string
	SourceIP     string
}

// DLQEvent is a stored FailedEvent
type DLQEvent struct {
	ID           int64
	RequestID    string
	Kind         string
	AgentID      string
	Payload      []byte
	ErrorReason  string
	ErrorDetails string
	SourceIP     string
	Retries      int
	Status       string // 'pending', 'replayed', 'discarded'
	CreatedAt    time.Time
}

// DLQ stores failed events in SQLite
type DLQ struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// OpenDLQ opens (creating if needed) the SQLite database at path
func OpenDLQ(path string, logger *zap.SugaredLogger) (*DLQ, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DLQ database: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure DLQ database: %w", err)
		}
	}
	if _, err := db.Exec(dlqSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create DLQ schema: %w", err)
	}

	logger.Infow("Dead letter queue ready", "path", path)
	return NewDLQ(db, logger), nil
}

// NewDLQ wraps an already migrated database
func NewDLQ(db *sql.DB, logger *zap.SugaredLogger) *DLQ {
	return &DLQ{db: db, logger: logger}
}

// Close closes the database
func (d *DLQ) Close() error {
	return d.db.Close()
}

// Add writes a failed event to the DLQ. Binary payloads are stored base64 encoded.
func (d *DLQ) Add(ctx context.Context, event *FailedEvent) error {
	query := `
		INSERT INTO dead_letter_queue
		(request_id, kind, agent_id, payload, error_reason, error_details, source_ip, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')
	`
	_, err := d.db.ExecContext(ctx, query,
		event.RequestID,
		event.Kind,
		event.AgentID,
		base64.StdEncoding.EncodeToString(event.Payload),
		event.ErrorReason,
		event.ErrorDetails,
		event.SourceIP,
	)
	if err != nil {
		metrics.DeadLetterInsertFailures.Inc()
		d.logger.Errorw("Failed to write event to DLQ", "kind", event.Kind, "reason", event.ErrorReason, "error", err)
		return fmt.Errorf("failed to write event to DLQ: %w", err)
	}

	metrics.DeadLetterEvents.WithLabelValues(event.ErrorReason).Inc()
	d.logger.Debugw("Event written to DLQ",
		"request_id", event.RequestID,
		"kind", event.Kind,
		"reason", event.ErrorReason,
		"source_ip", event.SourceIP)
	return nil
}

const dlqColumns = `id, request_id, kind, COALESCE(agent_id, ''), payload, error_reason,
	COALESCE(error_details, ''), COALESCE(source_ip, ''), retries, status, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDLQEvent(row rowScanner) (*DLQEvent, error) {
	var event DLQEvent
	var payload string
	err := row.Scan(
		&event.ID,
		&event.RequestID,
		&event.Kind,
		&event.AgentID,
		&payload,
		&event.ErrorReason,
		&event.ErrorDetails,
		&event.SourceIP,
		&event.Retries,
		&event.Status,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	event.Payload, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("corrupt payload in DLQ event %d: %w", event.ID, err)
	}
	return &event, nil
}

// Get retrieves a DLQ event by ID
func (d *DLQ) Get(ctx context.Context, id int64) (*DLQEvent, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+dlqColumns+` FROM dead_letter_queue WHERE id = ?`, id)
	event, err := scanDLQEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("DLQ event not found: id=%d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ event: %w", err)
	}
	return event, nil
}

// List returns pending events, newest first, optionally filtered by reason
func (d *DLQ) List(ctx context.Context, reason string, limit, offset int) ([]*DLQEvent, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE status = 'pending'`
	args := []interface{}{}
	if reason != "" {
		query += ` AND error_reason = ?`
		args = append(args, reason)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query DLQ events: %w", err)
	}
	defer rows.Close()

	events := []*DLQEvent{}
	for rows.Next() {
		event, err := scanDLQEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan DLQ event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating DLQ events: %w", err)
	}
	return events, nil
}

// Count returns the number of pending events
func (d *DLQ) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count DLQ events: %w", err)
	}
	return n, nil
}

// UpdateStatus updates the status of a DLQ event
func (d *DLQ) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE dead_letter_queue SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update DLQ event status: %w", err)
	}
	return nil
}

// IncrementRetries increments the retry counter for a DLQ event
func (d *DLQ) IncrementRetries(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, `UPDATE dead_letter_queue SET retries = retries + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment DLQ event retries: %w", err)
	}
	return nil
}
