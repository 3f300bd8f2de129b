package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartclinic/clinic-assistant/internal/audit"
	"github.com/heartclinic/clinic-assistant/internal/medications"
	"github.com/heartclinic/clinic-assistant/internal/patients"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

type fakeMedications struct {
	meds   []medications.Medication
	addErr error
	added  []medications.Medication
}

func (f *fakeMedications) Add(_ context.Context, med medications.Medication) (*medications.Medication, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, med)
	return &med, nil
}

func (f *fakeMedications) List(_ context.Context) ([]medications.Medication, error) {
	return f.meds, nil
}

func (f *fakeMedications) ListForPatient(_ context.Context, patientID string) ([]medications.Medication, error) {
	var out []medications.Medication
	for _, m := range f.meds {
		if m.PatientID == patientID {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeRoster struct {
	profiles map[string]*patients.Profile
}

func (f *fakeRoster) Get(_ context.Context, id string) (*patients.Profile, error) {
	profile, ok := f.profiles[id]
	if !ok {
		return nil, patients.ErrNotFound
	}
	return profile, nil
}

func (f *fakeRoster) List(_ context.Context) ([]patients.Profile, error) {
	out := make([]patients.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func newMedicationsHandler(meds *fakeMedications, auditor audit.Recorder) *AdminMedicationsHandler {
	roster := &fakeRoster{profiles: map[string]*patients.Profile{
		"sub-1": {ID: "sub-1", Name: "Ada", Email: "ada@example.com"},
	}}
	return NewAdminMedicationsHandler(meds, roster, auditor, logging.New("error"))
}

const validMedicationBody = `{
	"patient_id": "sub-1",
	"medication_name": "Lisinopril",
	"dosage": "10mg",
	"instructions": "With water",
	"start_date": "2026-03-10",
	"end_date": "2026-04-10",
	"times": {"morning": true, "night": true}
}`

func TestMedicationsAdd(t *testing.T) {
	meds := &fakeMedications{}
	auditor := &memoryAuditor{}
	handler := newMedicationsHandler(meds, auditor)

	w := httptest.NewRecorder()
	handler.Add(w, adminRequest(http.MethodPost, "/admin/medications", validMedicationBody))
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, meds.added, 1)
	added := meds.added[0]
	assert.Equal(t, "sub-1", added.PatientID)
	assert.Equal(t, "Ada", added.PatientName)
	assert.Equal(t, "ada@example.com", added.PatientEmail)
	assert.Equal(t, "admin-1", added.AddedBy)
	assert.True(t, added.Times.Morning)

	require.Len(t, auditor.events, 1)
	assert.Equal(t, audit.EventMedicationAdded, auditor.events[0].Type)
}

func TestMedicationsAddUnknownPatient(t *testing.T) {
	handler := newMedicationsHandler(&fakeMedications{}, nil)

	w := httptest.NewRecorder()
	handler.Add(w, adminRequest(http.MethodPost, "/admin/medications", `{"patient_id":"ghost"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMedicationsAddInvalidRecord(t *testing.T) {
	meds := &fakeMedications{addErr: medications.ErrInvalidMedication}
	handler := newMedicationsHandler(meds, nil)

	w := httptest.NewRecorder()
	handler.Add(w, adminRequest(http.MethodPost, "/admin/medications", validMedicationBody))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMedicationsListForPatient(t *testing.T) {
	meds := &fakeMedications{meds: []medications.Medication{
		{ID: "m1", PatientID: "sub-1"},
		{ID: "m2", PatientID: "sub-2"},
	}}
	handler := newMedicationsHandler(meds, nil)

	w := httptest.NewRecorder()
	handler.List(w, adminRequest(http.MethodGet, "/admin/medications?patient_id=sub-1", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Medications []medications.Medication `json:"medications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Medications, 1)
	assert.Equal(t, "m1", resp.Medications[0].ID)
}

func TestMedicationsListAll(t *testing.T) {
	meds := &fakeMedications{meds: []medications.Medication{
		{ID: "m1"}, {ID: "m2"},
	}}
	handler := newMedicationsHandler(meds, nil)

	w := httptest.NewRecorder()
	handler.List(w, adminRequest(http.MethodGet, "/admin/medications", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Medications []medications.Medication `json:"medications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Medications, 2)
}

func TestPatientsRoster(t *testing.T) {
	handler := newMedicationsHandler(&fakeMedications{}, nil)

	w := httptest.NewRecorder()
	handler.Patients(w, adminRequest(http.MethodGet, "/admin/patients", ""))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Patients []patients.Profile `json:"patients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Patients, 1)
	assert.Equal(t, "Ada", resp.Patients[0].Name)
}
