// Package assistant implements the rule-based dialogue that books and
// cancels clinic appointments from free-text patient messages.
package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/heartclinic/clinic-assistant/internal/appointments"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/internal/observability/metrics"
	"github.com/heartclinic/clinic-assistant/internal/schedule"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

var tracer = otel.Tracer("clinic.internal.assistant")

// BookingService is the slice of the appointments service the dialogue needs.
type BookingService interface {
	AvailableSlots(ctx context.Context, date string) ([]string, error)
	CurrentForSubject(ctx context.Context, subjectID string) (*appointments.Appointment, error)
	Book(ctx context.Context, subject identity.Subject, date, slot string) (*appointments.Appointment, error)
	Cancel(ctx context.Context, subject identity.Subject) (*appointments.Appointment, error)
}

// Assistant interprets one utterance at a time against the session's current
// stage. Every stateful decision is re-validated by the appointments service
// at write time; the assistant's own reads are only used to phrase prompts.
type Assistant struct {
	bookings BookingService
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// New constructs an assistant. m may be nil.
func New(bookings BookingService, m *metrics.BookingMetrics, logger *logging.Logger) *Assistant {
	if bookings == nil {
		panic("assistant: booking service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Assistant{bookings: bookings, metrics: m, logger: logger, now: time.Now}
}

// Reply processes one utterance, mutates the session stage and transcript,
// and returns the assistant's messages. Collaborator failures surface as an
// apology and leave the stage untouched so the patient can simply retry.
func (a *Assistant) Reply(ctx context.Context, subject identity.Subject, sess *Session, utterance string) []string {
	input := strings.TrimSpace(utterance)
	if input == "" {
		return nil
	}

	ctx, span := tracer.Start(ctx, "assistant.reply")
	defer span.End()
	span.SetAttributes(attribute.String("clinic.stage", sess.Stage.String()))

	start := a.now()
	entryStage := sess.Stage

	sess.append("user", input, start.UTC())
	replies := a.handle(ctx, subject, sess, input)
	for _, r := range replies {
		sess.append("assistant", r, a.now().UTC())
	}

	a.metrics.ObserveUtterance(entryStage.String(), a.now().Sub(start).Seconds())
	return replies
}

func (a *Assistant) handle(ctx context.Context, subject identity.Subject, sess *Session, input string) []string {
	lower := strings.ToLower(input)

	// The pending yes/no prompt wins over everything else.
	if sess.Stage == StageAwaitingCancelConfirm {
		return a.confirmCancel(ctx, subject, sess, lower)
	}

	// A cancellation request interrupts any stage.
	if strings.Contains(lower, "cancel") {
		return a.startCancel(ctx, subject, sess)
	}

	dateToken, hasDate := schedule.ExtractDate(input)

	switch sess.Stage {
	case StageAwaitingDate:
		return a.handleDate(ctx, subject, sess, input)

	case StageAwaitingTime:
		return a.handleTime(ctx, subject, sess, input)

	default: // StageNone
		switch {
		case strings.Contains(lower, "available") || strings.Contains(lower, "slots"):
			return a.checkAvailability(ctx, dateToken, hasDate)
		case hasDate || strings.Contains(lower, "book") || strings.Contains(lower, "appointment"):
			return a.startBooking(ctx, subject, sess, dateToken, hasDate)
		default:
			return []string{msgHelp}
		}
	}
}

// startBooking handles a booking intent from the idle stage. A date supplied
// inline is processed immediately instead of re-prompting for it.
func (a *Assistant) startBooking(ctx context.Context, subject identity.Subject, sess *Session, dateToken string, hasDate bool) []string {
	current, err := a.bookings.CurrentForSubject(ctx, subject.ID)
	if err != nil {
		a.logger.Error("assistant: lookup current appointment", "subject_id", subject.ID, "error", err)
		return []string{msgTrouble}
	}

	var replies []string
	if current != nil {
		if a.isUpcoming(current) {
			return []string{msgAlreadyBooked(current.Date, current.TimeSlot)}
		}
		replies = append(replies, msgLapsed(current.Date))
	}

	if hasDate {
		return append(replies, a.handleDate(ctx, subject, sess, dateToken)...)
	}

	sess.Stage = StageAwaitingDate
	return append(replies, msgAskDate)
}

// handleDate validates a date token and, when bookable, offers its open slots.
func (a *Assistant) handleDate(ctx context.Context, subject identity.Subject, sess *Session, input string) []string {
	token, ok := schedule.ExtractDate(input)
	if !ok {
		sess.Stage = StageAwaitingDate
		return []string{msgInvalidDate}
	}
	date, valid := schedule.ParseDate(token)
	if !valid {
		sess.Stage = StageAwaitingDate
		return []string{msgInvalidDate}
	}

	// Re-check the duplicate guard here too: the patient may have booked in
	// another tab since the intent message.
	current, err := a.bookings.CurrentForSubject(ctx, subject.ID)
	if err != nil {
		a.logger.Error("assistant: lookup current appointment", "subject_id", subject.ID, "error", err)
		return []string{msgTrouble}
	}
	if current != nil && a.isUpcoming(current) {
		sess.reset()
		return []string{msgAlreadyBooked(current.Date, current.TimeSlot)}
	}

	if schedule.BeforeToday(date, a.now()) {
		sess.Stage = StageAwaitingDate
		return []string{msgPastDate}
	}

	slots, err := a.bookings.AvailableSlots(ctx, token)
	if err != nil {
		var closed *appointments.ClosedDateError
		if errors.As(err, &closed) {
			sess.Stage = StageAwaitingDate
			return []string{msgClosed(closed.Date, closed.Reason)}
		}
		a.logger.Error("assistant: list availability", "date", token, "error", err)
		return []string{msgTrouble}
	}
	if len(slots) == 0 {
		sess.Stage = StageAwaitingDate
		sess.CandidateDate = ""
		sess.OfferedSlots = nil
		return []string{msgNoSlots(token)}
	}

	sess.Stage = StageAwaitingTime
	sess.CandidateDate = token
	sess.OfferedSlots = slots
	return []string{msgOfferSlots(token, slots)}
}

// handleTime attempts the booking for a chosen slot.
func (a *Assistant) handleTime(ctx context.Context, subject identity.Subject, sess *Session, input string) []string {
	if !schedule.ValidSlot(input) || !offered(sess.OfferedSlots, input) {
		return []string{msgInvalidSlot(schedule.ClinicHours())}
	}

	appt, err := a.bookings.Book(ctx, subject, sess.CandidateDate, input)
	switch {
	case err == nil:
		sess.reset()
		return []string{msgBooked(appt.Date, appt.TimeSlot, subject.Email)}

	case errors.Is(err, appointments.ErrSlotTaken):
		// Someone else confirmed the slot during think-time. Refresh the
		// offer so the next pick is made against current availability.
		date := sess.CandidateDate
		slots, aerr := a.bookings.AvailableSlots(ctx, date)
		if aerr != nil || len(slots) == 0 {
			sess.reset()
			sess.Stage = StageAwaitingDate
			return []string{msgNoSlots(date)}
		}
		sess.OfferedSlots = slots
		return []string{msgSlotJustTaken(date, slots)}

	case errors.Is(err, appointments.ErrAlreadyBooked):
		date := sess.CandidateDate
		sess.reset()
		if current, cerr := a.bookings.CurrentForSubject(ctx, subject.ID); cerr == nil && current != nil {
			return []string{msgAlreadyBooked(current.Date, current.TimeSlot)}
		}
		return []string{msgAlreadyBooked(date, input)}

	case errors.Is(err, appointments.ErrPastDate):
		sess.reset()
		sess.Stage = StageAwaitingDate
		return []string{msgPastDate}

	default:
		var closed *appointments.ClosedDateError
		if errors.As(err, &closed) {
			sess.reset()
			sess.Stage = StageAwaitingDate
			return []string{msgClosed(closed.Date, closed.Reason)}
		}
		a.logger.Error("assistant: booking failed", "subject_id", subject.ID, "error", err)
		return []string{msgTrouble}
	}
}

// startCancel looks up the cancellable appointment and asks for confirmation.
func (a *Assistant) startCancel(ctx context.Context, subject identity.Subject, sess *Session) []string {
	current, err := a.bookings.CurrentForSubject(ctx, subject.ID)
	if err != nil {
		a.logger.Error("assistant: lookup current appointment", "subject_id", subject.ID, "error", err)
		return []string{msgTrouble}
	}
	if current == nil {
		return []string{msgNothingBooked}
	}
	if !a.isUpcoming(current) {
		return []string{msgNoUpcoming}
	}

	sess.Stage = StageAwaitingCancelConfirm
	return []string{msgConfirmCancel(current.Date, current.TimeSlot)}
}

// confirmCancel resolves the pending yes/no prompt. Anything but yes/y
// abandons the cancellation.
func (a *Assistant) confirmCancel(ctx context.Context, subject identity.Subject, sess *Session, lower string) []string {
	if lower != "yes" && lower != "y" {
		sess.reset()
		return []string{msgCancelAborted}
	}

	appt, err := a.bookings.Cancel(ctx, subject)
	if errors.Is(err, appointments.ErrNoActiveAppointment) {
		sess.reset()
		return []string{msgNoUpcoming}
	}
	if err != nil {
		// Stage stays at the confirmation prompt; the patient can retry yes.
		a.logger.Error("assistant: cancellation failed", "subject_id", subject.ID, "error", err)
		return []string{msgTrouble}
	}

	sess.reset()
	return []string{msgCancelled(appt.Date, appt.TimeSlot)}
}

// checkAvailability answers a read-only availability question without
// changing the stage.
func (a *Assistant) checkAvailability(ctx context.Context, dateToken string, hasDate bool) []string {
	if !hasDate {
		return []string{msgAskDateForAvailability}
	}
	slots, err := a.bookings.AvailableSlots(ctx, dateToken)
	if err != nil {
		var closed *appointments.ClosedDateError
		if errors.As(err, &closed) {
			return []string{msgClosed(closed.Date, closed.Reason)}
		}
		a.logger.Error("assistant: list availability", "date", dateToken, "error", err)
		return []string{msgTrouble}
	}
	return []string{msgAvailability(dateToken, slots)}
}

func (a *Assistant) isUpcoming(appt *appointments.Appointment) bool {
	d, ok := schedule.ParseDate(appt.Date)
	if !ok {
		return false
	}
	return !schedule.BeforeToday(d, a.now())
}

func offered(slots []string, slot string) bool {
	for _, s := range slots {
		if s == slot {
			return true
		}
	}
	return false
}
