package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/piewallah/pw-gateway/internal/model"
)

const sessionEventsDDL = `CREATE TABLE IF NOT EXISTS session_events (
	id          CHAR(36)     NOT NULL PRIMARY KEY,
	type        VARCHAR(32)  NOT NULL,
	subject     VARCHAR(128) NOT NULL,
	reason      VARCHAR(128) NOT NULL DEFAULT '',
	source      VARCHAR(16)  NOT NULL,
	occurred_at DATETIME(3)  NOT NULL,
	KEY idx_session_events_subject (subject, occurred_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// SessionEventRepo is the audit trail of session lifecycle events.
type SessionEventRepo struct{ DB *sql.DB }

func NewSessionEventRepo(db *sql.DB) *SessionEventRepo { return &SessionEventRepo{DB: db} }

// EnsureSchema creates the table when missing.
func (r *SessionEventRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, sessionEventsDDL); err != nil {
		return fmt.Errorf("create session_events: %w", err)
	}
	return nil
}

// Insert stores one event. A second insert of the same id returns
// ErrDuplicate.
func (r *SessionEventRepo) Insert(ctx context.Context, ev model.SessionEvent) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO session_events (id, type, subject, reason, source, occurred_at) VALUES (?,?,?,?,?,?)",
		ev.ID, string(ev.Type), ev.Subject, ev.Reason, ev.Source, ev.OccurredAt.UTC())
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Record implements the consumer sink; duplicates count as recorded.
func (r *SessionEventRepo) Record(ctx context.Context, ev model.SessionEvent) error {
	if err := r.Insert(ctx, ev); err != nil && !errors.Is(err, ErrDuplicate) {
		return err
	}
	return nil
}

// ListBySubject returns the newest events of one subject first.
func (r *SessionEventRepo) ListBySubject(ctx context.Context, subject string, limit int) ([]model.SessionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, type, subject, reason, source, occurred_at FROM session_events WHERE subject=? ORDER BY occurred_at DESC LIMIT ?",
		subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionEvent
	for rows.Next() {
		var (
			ev  model.SessionEvent
			typ string
			at  time.Time
		)
		if err := rows.Scan(&ev.ID, &typ, &ev.Subject, &ev.Reason, &ev.Source, &at); err != nil {
			return nil, err
		}
		ev.Type = model.SessionEventType(typ)
		ev.OccurredAt = at
		out = append(out, ev)
	}
	return out, rows.Err()
}

// LastBySubject returns the newest event of one subject.
func (r *SessionEventRepo) LastBySubject(ctx context.Context, subject string) (model.SessionEvent, error) {
	evs, err := r.ListBySubject(ctx, subject, 1)
	if err != nil {
		return model.SessionEvent{}, err
	}
	if len(evs) == 0 {
		return model.SessionEvent{}, ErrNotFound
	}
	return evs[0], nil
}
