package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	audit "aegis/pkg/platform/audit"
)

// Store implements audit.Store on the security_audit_events table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the event. Re-appending the same event id is a no-op so a
// retried publish cannot duplicate a record.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO security_audit_events (
			id, occurred_at, event_type, severity, subject,
			decision, reason, detail, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`,
		event.ID,
		event.Timestamp,
		string(event.EventType),
		string(event.Severity),
		event.Subject,
		event.Decision,
		event.Reason,
		detail,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events first. limit <= 0 means 100.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, event_type, severity, subject,
			   decision, reason, detail, request_id
		FROM security_audit_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			eventType string
			severity  string
			detail    []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&eventType,
			&severity,
			&event.Subject,
			&event.Decision,
			&event.Reason,
			&detail,
			&event.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.EventType = audit.EventType(eventType)
		event.Severity = audit.Severity(severity)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &event.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
