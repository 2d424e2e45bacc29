package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event results.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Event is one row of the run history.
type Event struct {
	ID          int64
	Timestamp   time.Time
	RunID       string
	Action      string
	Identifier  string
	Ref         string
	ContainerID string
	Result      string
	Error       string
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// RecordEvent appends e to the ledger. A zero Timestamp means now.
func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Result == "" {
		e.Result = ResultOK
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (ts, run_id, action, identifier, ref, container_id, result, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Timestamp.UTC(), e.RunID, e.Action, e.Identifier, nullable(e.Ref), nullable(e.ContainerID), e.Result, nullable(e.Error))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, run_id, action, identifier, ref, container_id, result, error_message
		FROM run_events
		ORDER BY ts DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                        Event
			ref, containerID, errMsg sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RunID, &e.Action, &e.Identifier, &ref, &containerID, &e.Result, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Ref = ref.String
		e.ContainerID = containerID.String
		e.Error = errMsg.String
		events = append(events, e)
	}
	return events, rows.Err()
}
