package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartclinic/clinic-assistant/internal/audit"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

type fakeStore struct {
	byID       map[string]*Appointment
	byDate     map[string][]Appointment
	bySubject  map[string][]Appointment
	bookErr    error
	cancelErr  error
	confirmErr error
	booked     []*Appointment
	cancelled  []*Appointment
	confirmed  []*Appointment
	lastToday  string
}

func (f *fakeStore) Get(_ context.Context, id string) (*Appointment, error) {
	appt, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := *appt
	return &copy, nil
}

func (f *fakeStore) ConfirmedForDate(_ context.Context, date string) ([]Appointment, error) {
	return f.byDate[date], nil
}

func (f *fakeStore) ConfirmedForSubject(_ context.Context, subjectID string) ([]Appointment, error) {
	return f.bySubject[subjectID], nil
}

func (f *fakeStore) Book(_ context.Context, appt *Appointment, today string) error {
	f.lastToday = today
	if f.bookErr != nil {
		return f.bookErr
	}
	f.booked = append(f.booked, appt)
	return nil
}

func (f *fakeStore) Cancel(_ context.Context, appt *Appointment, _ time.Time) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, appt)
	return nil
}

func (f *fakeStore) Confirm(_ context.Context, appt *Appointment, _ time.Time, today string) error {
	f.lastToday = today
	if f.confirmErr != nil {
		return f.confirmErr
	}
	f.confirmed = append(f.confirmed, appt)
	return nil
}

type fakeClosures struct {
	closed map[string]string
	err    error
}

func (f *fakeClosures) Closed(_ context.Context, date string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	reason, ok := f.closed[date]
	return reason, ok, nil
}

type recordingAuditor struct {
	events []audit.Event
	err    error
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func newTestService(store *fakeStore, closures *fakeClosures, auditor audit.Recorder) *Service {
	if closures == nil {
		closures = &fakeClosures{}
	}
	svc := &Service{
		store:    store,
		closures: closures,
		auditor:  auditor,
		logger:   logging.New("error"),
		now:      func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) },
	}
	return svc
}

var subject = identity.Subject{ID: "sub-1", Name: "Ada", Email: "ada@example.com"}

func TestAvailableSlotsSubtractsConfirmed(t *testing.T) {
	store := &fakeStore{byDate: map[string][]Appointment{
		"2026-03-20": {
			{TimeSlot: "09:00"},
			{TimeSlot: "12:00"},
		},
	}}
	svc := newTestService(store, nil, nil)

	slots, err := svc.AvailableSlots(context.Background(), "2026-03-20")
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:00", "13:00", "14:00", "15:00"}, slots)
}

func TestAvailableSlotsClosedDate(t *testing.T) {
	closures := &fakeClosures{closed: map[string]string{"2026-03-20": "Holiday"}}
	svc := newTestService(&fakeStore{}, closures, nil)

	_, err := svc.AvailableSlots(context.Background(), "2026-03-20")
	var closed *ClosedDateError
	require.ErrorAs(t, err, &closed)
	assert.Equal(t, "Holiday", closed.Reason)
}

func TestCurrentForSubjectPicksLatest(t *testing.T) {
	store := &fakeStore{bySubject: map[string][]Appointment{
		"sub-1": {
			{ID: "a1", Date: "2026-01-05"},
			{ID: "a3", Date: "2026-04-01"},
			{ID: "a2", Date: "2026-02-10"},
		},
	}}
	svc := newTestService(store, nil, nil)

	latest, err := svc.CurrentForSubject(context.Background(), "sub-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "a3", latest.ID)
}

func TestBookHappyPath(t *testing.T) {
	store := &fakeStore{}
	auditor := &recordingAuditor{}
	svc := newTestService(store, nil, auditor)

	appt, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	require.NoError(t, err)
	assert.NotEmpty(t, appt.ID)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, "ada@example.com", appt.SubjectEmail)
	assert.Equal(t, "2026-03-10", store.lastToday)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.EventAppointmentBooked, auditor.events[0].Type)
}

func TestBookValidation(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil, nil)

	cases := []struct {
		name string
		date string
		slot string
		want error
	}{
		{"bad date", "20-03-2026", "10:00", ErrInvalidDate},
		{"impossible date", "2026-02-30", "10:00", ErrInvalidDate},
		{"past date", "2026-03-09", "10:00", ErrPastDate},
		{"off-hours slot", "2026-03-20", "16:00", ErrInvalidSlot},
		{"malformed slot", "2026-03-20", "10am", ErrInvalidSlot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Book(context.Background(), subject, tc.date, tc.slot)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestBookRefusedWithUpcomingAppointment(t *testing.T) {
	store := &fakeStore{bySubject: map[string][]Appointment{
		"sub-1": {{ID: "a1", Date: "2026-03-25", TimeSlot: "09:00"}},
	}}
	svc := newTestService(store, nil, nil)

	_, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	assert.ErrorIs(t, err, ErrAlreadyBooked)
	assert.Empty(t, store.booked)
}

func TestBookAllowedAfterLapsedAppointment(t *testing.T) {
	store := &fakeStore{bySubject: map[string][]Appointment{
		"sub-1": {{ID: "a1", Date: "2026-01-05", TimeSlot: "09:00"}},
	}}
	svc := newTestService(store, nil, nil)

	_, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	require.NoError(t, err)
	require.Len(t, store.booked, 1)
}

func TestBookSlotAlreadyConfirmed(t *testing.T) {
	store := &fakeStore{byDate: map[string][]Appointment{
		"2026-03-20": {{TimeSlot: "10:00"}},
	}}
	svc := newTestService(store, nil, nil)

	_, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestBookClosedDate(t *testing.T) {
	closures := &fakeClosures{closed: map[string]string{"2026-03-20": ""}}
	svc := newTestService(&fakeStore{}, closures, nil)

	_, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	var closed *ClosedDateError
	assert.ErrorAs(t, err, &closed)
}

func TestBookStoreConflictPassedThrough(t *testing.T) {
	store := &fakeStore{bookErr: ErrSlotTaken}
	svc := newTestService(store, nil, nil)

	_, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestCancelHappyPath(t *testing.T) {
	store := &fakeStore{bySubject: map[string][]Appointment{
		"sub-1": {{ID: "a1", SubjectID: "sub-1", Date: "2026-03-25", TimeSlot: "09:00", Status: StatusConfirmed}},
	}}
	auditor := &recordingAuditor{}
	svc := newTestService(store, nil, auditor)

	appt, err := svc.Cancel(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)
	require.NotNil(t, appt.CancelledAt)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.EventAppointmentCancelled, auditor.events[0].Type)
}

func TestCancelNothingToCancel(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil, nil)

	_, err := svc.Cancel(context.Background(), subject)
	assert.ErrorIs(t, err, ErrNoActiveAppointment)
}

func TestCancelLapsedAppointment(t *testing.T) {
	store := &fakeStore{bySubject: map[string][]Appointment{
		"sub-1": {{ID: "a1", Date: "2026-01-05", TimeSlot: "09:00", Status: StatusConfirmed}},
	}}
	svc := newTestService(store, nil, nil)

	_, err := svc.Cancel(context.Background(), subject)
	assert.ErrorIs(t, err, ErrNoActiveAppointment)
	assert.Empty(t, store.cancelled)
}

func TestSetStatusConfirm(t *testing.T) {
	store := &fakeStore{byID: map[string]*Appointment{
		"a1": {ID: "a1", SubjectID: "sub-1", Date: "2026-03-25", TimeSlot: "09:00", Status: StatusWaiting},
	}}
	auditor := &recordingAuditor{}
	svc := newTestService(store, nil, auditor)

	appt, err := svc.SetStatus(context.Background(), "a1", StatusConfirmed, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	require.NotNil(t, appt.ConfirmedAt)
	require.Len(t, store.confirmed, 1)
	require.Len(t, auditor.events, 1)
	assert.Equal(t, "admin-1", auditor.events[0].Actor)
	assert.Equal(t, "confirmed", auditor.events[0].Details)
}

func TestSetStatusCancel(t *testing.T) {
	store := &fakeStore{byID: map[string]*Appointment{
		"a1": {ID: "a1", Date: "2026-03-25", TimeSlot: "09:00", Status: StatusConfirmed},
	}}
	svc := newTestService(store, nil, nil)

	appt, err := svc.SetStatus(context.Background(), "a1", StatusCancelled, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, appt.Status)
}

func TestSetStatusUnknownAppointment(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil, nil)

	_, err := svc.SetStatus(context.Background(), "missing", StatusConfirmed, "admin-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetStatusInvalidTarget(t *testing.T) {
	store := &fakeStore{byID: map[string]*Appointment{
		"a1": {ID: "a1", Status: StatusConfirmed},
	}}
	svc := newTestService(store, nil, nil)

	_, err := svc.SetStatus(context.Background(), "a1", StatusWaiting, "admin-1")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAuditFailureDoesNotFailBooking(t *testing.T) {
	store := &fakeStore{}
	auditor := &recordingAuditor{err: errors.New("pg down")}
	svc := newTestService(store, nil, auditor)

	_, err := svc.Book(context.Background(), subject, "2026-03-20", "10:00")
	assert.NoError(t, err)
}
