package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartclinic/clinic-assistant/internal/appointments"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// fakeBookings scripts the appointments service. bookErrs is consumed one
// error per Book call so conflict-then-success sequences can be exercised.
type fakeBookings struct {
	slots      map[string][]string
	slotsErr   error
	current    *appointments.Appointment
	currentErr error
	bookErrs   []error
	booked     []string // "date slot" per successful call
	cancelErr  error
	cancelled  int
}

func (f *fakeBookings) AvailableSlots(_ context.Context, date string) ([]string, error) {
	if f.slotsErr != nil {
		return nil, f.slotsErr
	}
	return f.slots[date], nil
}

func (f *fakeBookings) CurrentForSubject(_ context.Context, _ string) (*appointments.Appointment, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.current, nil
}

func (f *fakeBookings) Book(_ context.Context, subject identity.Subject, date, slot string) (*appointments.Appointment, error) {
	if len(f.bookErrs) > 0 {
		err := f.bookErrs[0]
		f.bookErrs = f.bookErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.booked = append(f.booked, date+" "+slot)
	return &appointments.Appointment{
		ID:        "appt-1",
		SubjectID: subject.ID,
		Date:      date,
		TimeSlot:  slot,
		Status:    appointments.StatusConfirmed,
	}, nil
}

func (f *fakeBookings) Cancel(_ context.Context, _ identity.Subject) (*appointments.Appointment, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelled++
	appt := *f.current
	appt.Status = appointments.StatusCancelled
	return &appt, nil
}

func newTestAssistant(t *testing.T, bookings *fakeBookings) *Assistant {
	t.Helper()
	a := New(bookings, nil, logging.New("error"))
	a.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return a
}

var patient = identity.Subject{ID: "sub-1", Name: "Ada", Email: "ada@example.com"}

func TestReplyBookingHappyPath(t *testing.T) {
	bookings := &fakeBookings{slots: map[string][]string{"2026-03-20": {"09:00", "11:00"}}}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "I'd like to book an appointment")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "YYYY-MM-DD")
	assert.Equal(t, StageAwaitingDate, sess.Stage)

	replies = a.Reply(context.Background(), patient, sess, "2026-03-20")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "09:00")
	assert.Contains(t, replies[0], "11:00")
	assert.Equal(t, StageAwaitingTime, sess.Stage)
	assert.Equal(t, "2026-03-20", sess.CandidateDate)

	replies = a.Reply(context.Background(), patient, sess, "11:00")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "2026-03-20")
	assert.Contains(t, replies[0], "11:00")
	assert.Equal(t, StageNone, sess.Stage)
	assert.Equal(t, []string{"2026-03-20 11:00"}, bookings.booked)
}

func TestReplyInlineDateSkipsDatePrompt(t *testing.T) {
	bookings := &fakeBookings{slots: map[string][]string{"2026-03-20": {"10:00"}}}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "book me in on 2026-03-20")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "10:00")
	assert.Equal(t, StageAwaitingTime, sess.Stage)
}

func TestReplyInvalidDateReprompts(t *testing.T) {
	a := newTestAssistant(t, &fakeBookings{})
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	for _, input := range []string{"tomorrow", "2026-13-45", "2026-02-30"} {
		replies := a.Reply(context.Background(), patient, sess, input)
		require.Len(t, replies, 1, "input %q", input)
		assert.Contains(t, replies[0], "YYYY-MM-DD", "input %q", input)
		assert.Equal(t, StageAwaitingDate, sess.Stage, "input %q", input)
	}
}

func TestReplyPastDateRefused(t *testing.T) {
	a := newTestAssistant(t, &fakeBookings{})
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	replies := a.Reply(context.Background(), patient, sess, "2026-03-09")
	require.Len(t, replies, 1)
	assert.Contains(t, strings.ToLower(replies[0]), "future")
	assert.Equal(t, StageAwaitingDate, sess.Stage)
}

func TestReplyTodayIsBookable(t *testing.T) {
	bookings := &fakeBookings{slots: map[string][]string{"2026-03-10": {"14:00"}}}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	replies := a.Reply(context.Background(), patient, sess, "2026-03-10")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "14:00")
	assert.Equal(t, StageAwaitingTime, sess.Stage)
}

func TestReplyClosedDate(t *testing.T) {
	bookings := &fakeBookings{
		slotsErr: &appointments.ClosedDateError{Date: "2026-03-20", Reason: "Staff training"},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	replies := a.Reply(context.Background(), patient, sess, "2026-03-20")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Staff training")
	assert.Equal(t, StageAwaitingDate, sess.Stage)
}

func TestReplyFullyBookedDate(t *testing.T) {
	bookings := &fakeBookings{slots: map[string][]string{}}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	replies := a.Reply(context.Background(), patient, sess, "2026-03-20")
	require.Len(t, replies, 1)
	assert.Contains(t, strings.ToLower(replies[0]), "no")
	assert.Equal(t, StageAwaitingDate, sess.Stage)
	assert.Empty(t, sess.OfferedSlots)
}

func TestReplyInvalidSlotReprompts(t *testing.T) {
	bookings := &fakeBookings{slots: map[string][]string{"2026-03-20": {"09:00"}}}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingTime
	sess.CandidateDate = "2026-03-20"
	sess.OfferedSlots = []string{"09:00"}

	for _, input := range []string{"9am", "16:00", "10:00"} {
		replies := a.Reply(context.Background(), patient, sess, input)
		require.Len(t, replies, 1, "input %q", input)
		assert.Equal(t, StageAwaitingTime, sess.Stage, "input %q", input)
		assert.Empty(t, bookings.booked, "input %q", input)
	}
}

func TestReplySlotTakenRefreshesOffer(t *testing.T) {
	bookings := &fakeBookings{
		slots:    map[string][]string{"2026-03-20": {"10:00", "11:00"}},
		bookErrs: []error{appointments.ErrSlotTaken, nil},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingTime
	sess.CandidateDate = "2026-03-20"
	sess.OfferedSlots = []string{"09:00", "10:00", "11:00"}

	replies := a.Reply(context.Background(), patient, sess, "09:00")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "just booked")
	assert.Equal(t, StageAwaitingTime, sess.Stage)
	assert.Equal(t, []string{"10:00", "11:00"}, sess.OfferedSlots)

	replies = a.Reply(context.Background(), patient, sess, "10:00")
	require.Len(t, replies, 1)
	assert.Equal(t, StageNone, sess.Stage)
	assert.Equal(t, []string{"2026-03-20 10:00"}, bookings.booked)
}

func TestReplySlotTakenAndDateNowFull(t *testing.T) {
	bookings := &fakeBookings{
		slots:    map[string][]string{},
		bookErrs: []error{appointments.ErrSlotTaken},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingTime
	sess.CandidateDate = "2026-03-20"
	sess.OfferedSlots = []string{"09:00"}

	replies := a.Reply(context.Background(), patient, sess, "09:00")
	require.Len(t, replies, 1)
	assert.Contains(t, strings.ToLower(replies[0]), "no")
	assert.Equal(t, StageAwaitingDate, sess.Stage)
	assert.Empty(t, sess.OfferedSlots)
}

func TestReplyExistingAppointmentBlocksBooking(t *testing.T) {
	bookings := &fakeBookings{
		current: &appointments.Appointment{
			ID: "a1", Date: "2026-03-25", TimeSlot: "09:00",
			Status: appointments.StatusConfirmed,
		},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "book an appointment")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "2026-03-25")
	assert.Equal(t, StageNone, sess.Stage)
}

func TestReplyLapsedAppointmentNoted(t *testing.T) {
	bookings := &fakeBookings{
		slots: map[string][]string{"2026-03-20": {"09:00"}},
		current: &appointments.Appointment{
			ID: "a1", Date: "2026-01-05", TimeSlot: "09:00",
			Status: appointments.StatusConfirmed,
		},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "book an appointment")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "2026-01-05")
	assert.Equal(t, StageAwaitingDate, sess.Stage)
}

func TestReplyCancelConfirmYes(t *testing.T) {
	bookings := &fakeBookings{
		current: &appointments.Appointment{
			ID: "a1", Date: "2026-03-25", TimeSlot: "09:00",
			Status: appointments.StatusConfirmed,
		},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "cancel my appointment")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "2026-03-25")
	assert.Equal(t, StageAwaitingCancelConfirm, sess.Stage)

	replies = a.Reply(context.Background(), patient, sess, "yes")
	require.Len(t, replies, 1)
	assert.Contains(t, strings.ToLower(replies[0]), "cancelled")
	assert.Equal(t, StageNone, sess.Stage)
	assert.Equal(t, 1, bookings.cancelled)
}

func TestReplyCancelConfirmDeclined(t *testing.T) {
	bookings := &fakeBookings{
		current: &appointments.Appointment{
			ID: "a1", Date: "2026-03-25", TimeSlot: "09:00",
			Status: appointments.StatusConfirmed,
		},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingCancelConfirm

	replies := a.Reply(context.Background(), patient, sess, "no thanks")
	require.Len(t, replies, 1)
	assert.Equal(t, StageNone, sess.Stage)
	assert.Zero(t, bookings.cancelled)
}

func TestReplyCancelNothingBooked(t *testing.T) {
	a := newTestAssistant(t, &fakeBookings{})
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "cancel")
	require.Len(t, replies, 1)
	assert.Contains(t, strings.ToLower(replies[0]), "don't have")
	assert.Equal(t, StageNone, sess.Stage)
}

func TestReplyCancelLapsedAppointment(t *testing.T) {
	bookings := &fakeBookings{
		current: &appointments.Appointment{
			ID: "a1", Date: "2026-01-05", TimeSlot: "09:00",
			Status: appointments.StatusConfirmed,
		},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "cancel")
	require.Len(t, replies, 1)
	assert.Equal(t, StageNone, sess.Stage)
	assert.Zero(t, bookings.cancelled)
}

func TestReplyCancelInterruptsBookingFlow(t *testing.T) {
	bookings := &fakeBookings{
		current: &appointments.Appointment{
			ID: "a1", Date: "2026-03-25", TimeSlot: "09:00",
			Status: appointments.StatusConfirmed,
		},
	}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	replies := a.Reply(context.Background(), patient, sess, "actually, cancel my appointment")
	require.Len(t, replies, 1)
	assert.Equal(t, StageAwaitingCancelConfirm, sess.Stage)
}

func TestReplyAvailabilityQuery(t *testing.T) {
	bookings := &fakeBookings{slots: map[string][]string{"2026-03-20": {"09:00", "12:00"}}}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "what slots are available on 2026-03-20?")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "09:00")
	assert.Contains(t, replies[0], "12:00")
	assert.Equal(t, StageNone, sess.Stage)

	replies = a.Reply(context.Background(), patient, sess, "anything available?")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "YYYY-MM-DD")
}

func TestReplyHelpFallback(t *testing.T) {
	a := newTestAssistant(t, &fakeBookings{})
	sess := NewSession("s1")

	replies := a.Reply(context.Background(), patient, sess, "hello there")
	require.Len(t, replies, 1)
	assert.Equal(t, msgHelp, replies[0])
	assert.Equal(t, StageNone, sess.Stage)
}

func TestReplyServiceErrorKeepsStage(t *testing.T) {
	bookings := &fakeBookings{currentErr: errors.New("dynamo down")}
	a := newTestAssistant(t, bookings)
	sess := NewSession("s1")
	sess.Stage = StageAwaitingDate

	replies := a.Reply(context.Background(), patient, sess, "2026-03-20")
	require.Len(t, replies, 1)
	assert.Equal(t, msgTrouble, replies[0])
	assert.Equal(t, StageAwaitingDate, sess.Stage)
}

func TestReplyRecordsTranscript(t *testing.T) {
	a := newTestAssistant(t, &fakeBookings{})
	sess := NewSession("s1")

	a.Reply(context.Background(), patient, sess, "hello")
	require.Len(t, sess.Transcript, 2)
	assert.Equal(t, "user", sess.Transcript[0].Role)
	assert.Equal(t, "hello", sess.Transcript[0].Text)
	assert.Equal(t, "assistant", sess.Transcript[1].Role)
}

func TestReplyIgnoresBlankInput(t *testing.T) {
	a := newTestAssistant(t, &fakeBookings{})
	sess := NewSession("s1")

	assert.Nil(t, a.Reply(context.Background(), patient, sess, "   "))
	assert.Empty(t, sess.Transcript)
}
