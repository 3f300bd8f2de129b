package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/heartclinic/clinic-assistant/internal/audit"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/internal/observability/metrics"
	"github.com/heartclinic/clinic-assistant/internal/schedule"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.appointments")

// ClosureRegistry answers whether the clinic is closed on a date.
type ClosureRegistry interface {
	Closed(ctx context.Context, date string) (reason string, closed bool, err error)
}

// appointmentStore is the slice of Store the service uses; narrowed for tests.
type appointmentStore interface {
	Get(ctx context.Context, id string) (*Appointment, error)
	ConfirmedForDate(ctx context.Context, date string) ([]Appointment, error)
	ConfirmedForSubject(ctx context.Context, subjectID string) ([]Appointment, error)
	Book(ctx context.Context, appt *Appointment, today string) error
	Cancel(ctx context.Context, appt *Appointment, cancelledAt time.Time) error
	Confirm(ctx context.Context, appt *Appointment, confirmedAt time.Time, today string) error
}

// Service applies the booking and cancellation rules on top of the store.
//
// Every state-changing operation re-validates its preconditions at execution
// time rather than trusting anything read earlier in the conversation: the
// read and the write are separated by user think-time, and other sessions
// mutate the same calendar in between. The final word still belongs to the
// store's transaction conditions.
type Service struct {
	store    appointmentStore
	closures ClosureRegistry
	auditor  audit.Recorder
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// NewService constructs the appointments service. auditor and m may be nil.
func NewService(store *Store, closures ClosureRegistry, auditor audit.Recorder, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("appointments: store required")
	}
	if closures == nil {
		panic("appointments: closure registry required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		store:    store,
		closures: closures,
		auditor:  auditor,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) today() string {
	return s.now().UTC().Format(schedule.DateLayout)
}

// AvailableSlots returns the open clinic-hour slots on a date. A closure date
// yields a *ClosedDateError carrying the registered reason.
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "appointments.available_slots")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.date", date))

	reason, closed, err := s.closures.Closed(ctx, date)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if closed {
		return nil, &ClosedDateError{Date: date, Reason: reason}
	}

	confirmed, err := s.store.ConfirmedForDate(ctx, date)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	booked := make([]string, 0, len(confirmed))
	for _, appt := range confirmed {
		booked = append(booked, appt.TimeSlot)
	}
	return schedule.Available(booked), nil
}

// CurrentForSubject returns the subject's most recent confirmed appointment,
// or nil when none exists. The result may be in the past; callers decide what
// a lapsed appointment means for them.
func (s *Service) CurrentForSubject(ctx context.Context, subjectID string) (*Appointment, error) {
	appts, err := s.store.ConfirmedForSubject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	var latest *Appointment
	for i := range appts {
		if latest == nil || appts[i].Date > latest.Date {
			latest = &appts[i]
		}
	}
	return latest, nil
}

// Book creates a confirmed appointment for the subject.
//
// All preconditions are re-checked here: the subject holds no other confirmed
// future appointment, the date is today or later and not a closure date, and
// the slot is inside clinic hours and currently free. The write itself is one
// conditional transaction, so two sessions racing for the same slot cannot
// both succeed no matter what their earlier reads said.
func (s *Service) Book(ctx context.Context, subject identity.Subject, date, slot string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinic.subject_id", subject.ID),
		attribute.String("clinic.date", date),
		attribute.String("clinic.time_slot", slot),
	)

	parsed, ok := schedule.ParseDate(date)
	if !ok {
		return nil, ErrInvalidDate
	}
	if schedule.BeforeToday(parsed, s.now()) {
		return nil, ErrPastDate
	}
	if !schedule.ValidSlot(slot) {
		return nil, ErrInvalidSlot
	}

	latest, err := s.CurrentForSubject(ctx, subject.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if latest != nil {
		if d, ok := schedule.ParseDate(latest.Date); ok && !schedule.BeforeToday(d, s.now()) {
			return nil, ErrAlreadyBooked
		}
	}

	available, err := s.AvailableSlots(ctx, date)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !contains(available, slot) {
		return nil, ErrSlotTaken
	}

	appt := &Appointment{
		ID:           uuid.NewString(),
		SubjectID:    subject.ID,
		SubjectName:  subject.Name,
		SubjectEmail: subject.Email,
		SubjectPhone: subject.Phone,
		Date:         date,
		TimeSlot:     slot,
		Status:       StatusConfirmed,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.store.Book(ctx, appt, s.today()); err != nil {
		span.RecordError(err)
		s.metrics.ObserveBooking("conflict")
		return nil, err
	}

	s.metrics.ObserveBooking("confirmed")
	s.audit(ctx, audit.Event{
		Type:          audit.EventAppointmentBooked,
		SubjectID:     subject.ID,
		AppointmentID: appt.ID,
		Date:          appt.Date,
		TimeSlot:      appt.TimeSlot,
		Actor:         subject.ID,
	})
	return appt, nil
}

// Cancel transitions the subject's confirmed future appointment to cancelled.
// A confirmed appointment whose date already passed is not cancellable and is
// reported as no active appointment; stale records are not auto-expired
// anywhere else, so this check is mandatory here.
func (s *Service) Cancel(ctx context.Context, subject identity.Subject) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.subject_id", subject.ID))

	latest, err := s.CurrentForSubject(ctx, subject.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if latest == nil {
		return nil, ErrNoActiveAppointment
	}
	if d, ok := schedule.ParseDate(latest.Date); !ok || schedule.BeforeToday(d, s.now()) {
		return nil, ErrNoActiveAppointment
	}

	cancelledAt := s.now().UTC()
	if err := s.store.Cancel(ctx, latest, cancelledAt); err != nil {
		span.RecordError(err)
		s.metrics.ObserveCancellation("error")
		return nil, err
	}

	latest.Status = StatusCancelled
	latest.CancelledAt = &cancelledAt

	s.metrics.ObserveCancellation("cancelled")
	s.audit(ctx, audit.Event{
		Type:          audit.EventAppointmentCancelled,
		SubjectID:     subject.ID,
		AppointmentID: latest.ID,
		Date:          latest.Date,
		TimeSlot:      latest.TimeSlot,
		Actor:         subject.ID,
	})
	return latest, nil
}

// SetStatus applies an administrative status transition. Confirming a waiting
// appointment acquires the same slot lock and subject hold as a fresh
// booking, so admin confirmations cannot overbook either.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, actor string) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointments.set_status")
	defer span.End()

	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	switch status {
	case StatusConfirmed:
		if err := s.store.Confirm(ctx, appt, now, s.today()); err != nil {
			span.RecordError(err)
			return nil, err
		}
		appt.Status = StatusConfirmed
		appt.ConfirmedAt = &now
	case StatusCancelled:
		if err := s.store.Cancel(ctx, appt, now); err != nil {
			span.RecordError(err)
			return nil, err
		}
		appt.Status = StatusCancelled
		appt.CancelledAt = &now
	default:
		return nil, ErrInvalidStatus
	}

	s.audit(ctx, audit.Event{
		Type:          audit.EventAppointmentStatusChanged,
		SubjectID:     appt.SubjectID,
		AppointmentID: appt.ID,
		Date:          appt.Date,
		TimeSlot:      appt.TimeSlot,
		Actor:         actor,
		Details:       string(status),
	})
	return appt, nil
}

// audit records best-effort; a failed audit write never fails the operation.
func (s *Service) audit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Record(ctx, event); err != nil {
		s.logger.Warn("audit record failed", "event_type", event.Type, "error", err)
	}
}

func contains(slots []string, slot string) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
