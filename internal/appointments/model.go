// Package appointments owns the appointment records and the conflict guard
// that keeps the single clinic calendar free of double bookings.
package appointments

import "time"

// Status is the lifecycle state of an appointment. Records are never
// physically deleted; cancellation is a status transition.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Appointment is one booked visit on the shared clinic calendar.
type Appointment struct {
	ID           string     `dynamodbav:"id" json:"id"`
	SubjectID    string     `dynamodbav:"subjectId" json:"subject_id"`
	SubjectName  string     `dynamodbav:"subjectName" json:"subject_name"`
	SubjectEmail string     `dynamodbav:"subjectEmail" json:"subject_email"`
	SubjectPhone string     `dynamodbav:"subjectPhone,omitempty" json:"subject_phone,omitempty"`
	Date         string     `dynamodbav:"date" json:"date"` // YYYY-MM-DD
	TimeSlot     string     `dynamodbav:"timeSlot" json:"time_slot"`
	Status       Status     `dynamodbav:"status" json:"status"`
	CreatedAt    time.Time  `dynamodbav:"createdAt" json:"created_at"`
	ConfirmedAt  *time.Time `dynamodbav:"confirmedAt,omitempty" json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time `dynamodbav:"cancelledAt,omitempty" json:"cancelled_at,omitempty"`
}
