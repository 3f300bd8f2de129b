// Package audit keeps a durable trail of every state change applied to the
// clinic calendar, whether it came from the assistant or from an admin.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies an audit record.
type EventType string

const (
	// EventAppointmentBooked is logged when the assistant books an appointment.
	EventAppointmentBooked EventType = "appointment.booked"
	// EventAppointmentCancelled is logged when a patient cancels through the assistant.
	EventAppointmentCancelled EventType = "appointment.cancelled"
	// EventAppointmentStatusChanged is logged on admin status transitions.
	EventAppointmentStatusChanged EventType = "appointment.status_changed"
	// EventClosureAdded is logged when an admin closes a date.
	EventClosureAdded EventType = "closure.added"
	// EventClosureRemoved is logged when an admin reopens a date.
	EventClosureRemoved EventType = "closure.removed"
	// EventMedicationAdded is logged when an admin assigns a medication.
	EventMedicationAdded EventType = "medication.added"
)

// Event is one immutable audit record.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"event_type"`
	SubjectID     string    `json:"subject_id,omitempty"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	Date          string    `json:"date,omitempty"`
	TimeSlot      string    `json:"time_slot,omitempty"`
	Actor         string    `json:"actor"`
	Details       string    `json:"details,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recorder is implemented by anything able to persist audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Service writes audit events to PostgreSQL. A nil *Service is a no-op so the
// audit trail can be disabled by configuration without nil checks at call
// sites.
type Service struct {
	db *sql.DB
}

// NewService creates an audit service. Returns nil when db is nil.
func NewService(db *sql.DB) *Service {
	if db == nil {
		return nil
	}
	return &Service{db: db}
}

// Record inserts one event.
func (s *Service) Record(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, event_type, subject_id, appointment_id, event_date, time_slot,
			actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.ID, string(event.Type), nullable(event.SubjectID), nullable(event.AppointmentID),
		nullable(event.Date), nullable(event.TimeSlot), event.Actor, nullable(event.Details),
		event.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// List returns the most recent events, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type,
			   COALESCE(subject_id, ''), COALESCE(appointment_id, ''),
			   COALESCE(event_date, ''), COALESCE(time_slot, ''),
			   actor, COALESCE(details, ''), created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		if err := rows.Scan(&e.ID, &eventType, &e.SubjectID, &e.AppointmentID,
			&e.Date, &e.TimeSlot, &e.Actor, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		e.Type = EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
