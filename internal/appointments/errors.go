package appointments

import "errors"

var (
	// ErrSlotTaken indicates the (date, slot) pair was confirmed by another
	// booking between availability listing and the write.
	ErrSlotTaken = errors.New("appointments: slot already booked")

	// ErrAlreadyBooked indicates the subject still holds a confirmed
	// appointment with a date today or later.
	ErrAlreadyBooked = errors.New("appointments: subject already has an upcoming appointment")

	// ErrNoActiveAppointment indicates there is no confirmed future
	// appointment to cancel.
	ErrNoActiveAppointment = errors.New("appointments: no active appointment")

	// ErrPastDate rejects bookings for calendar days before today.
	ErrPastDate = errors.New("appointments: date is in the past")

	// ErrInvalidDate rejects tokens that are not well-formed calendar days.
	ErrInvalidDate = errors.New("appointments: invalid date")

	// ErrInvalidSlot rejects time tokens outside the clinic-hours catalog.
	ErrInvalidSlot = errors.New("appointments: slot outside clinic hours")

	// ErrNotFound indicates the requested appointment ID does not exist.
	ErrNotFound = errors.New("appointments: not found")

	// ErrInvalidStatus rejects unknown status transitions.
	ErrInvalidStatus = errors.New("appointments: invalid status transition")
)

// ClosedDateError reports a booking attempt on a clinic closure date.
type ClosedDateError struct {
	Date   string
	Reason string
}

func (e *ClosedDateError) Error() string {
	if e.Reason == "" {
		return "appointments: clinic closed on " + e.Date
	}
	return "appointments: clinic closed on " + e.Date + " (" + e.Reason + ")"
}
