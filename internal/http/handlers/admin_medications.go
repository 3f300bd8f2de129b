package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/heartclinic/clinic-assistant/internal/audit"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/internal/medications"
	"github.com/heartclinic/clinic-assistant/internal/patients"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// medicationRegistry is the slice of the medications store this handler needs.
type medicationRegistry interface {
	Add(ctx context.Context, med medications.Medication) (*medications.Medication, error)
	List(ctx context.Context) ([]medications.Medication, error)
	ListForPatient(ctx context.Context, patientID string) ([]medications.Medication, error)
}

// patientRoster is the slice of the patients store this handler needs.
type patientRoster interface {
	Get(ctx context.Context, id string) (*patients.Profile, error)
	List(ctx context.Context) ([]patients.Profile, error)
}

// AdminMedicationsHandler manages medication records and the patient roster
// the admin picks patients from.
type AdminMedicationsHandler struct {
	medications medicationRegistry
	patients    patientRoster
	auditor     audit.Recorder
	logger      *logging.Logger
}

func NewAdminMedicationsHandler(meds medicationRegistry, patientStore patientRoster, auditor audit.Recorder, logger *logging.Logger) *AdminMedicationsHandler {
	if meds == nil {
		panic("handlers: medications store required")
	}
	if patientStore == nil {
		panic("handlers: patients store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminMedicationsHandler{
		medications: meds,
		patients:    patientStore,
		auditor:     auditor,
		logger:      logger,
	}
}

// Patients returns the roster for the patient picker, sorted by email.
// Route: GET /admin/patients
func (h *AdminMedicationsHandler) Patients(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.patients.List(r.Context())
	if err != nil {
		h.logger.Error("admin: list patients", "error", err)
		http.Error(w, `{"error":"failed to list patients"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": profiles})
}

// List returns medication records, all of them or one patient's.
// Route: GET /admin/medications?patient_id=...
func (h *AdminMedicationsHandler) List(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(r.URL.Query().Get("patient_id"))

	var (
		meds []medications.Medication
		err  error
	)
	if patientID != "" {
		meds, err = h.medications.ListForPatient(r.Context(), patientID)
	} else {
		meds, err = h.medications.List(r.Context())
	}
	if err != nil {
		h.logger.Error("admin: list medications", "patient_id", patientID, "error", err)
		http.Error(w, `{"error":"failed to list medications"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"medications": meds})
}

// Add assigns a medication to a patient. The patient must exist; the stored
// record carries their name and email so listings need no joins.
// Route: POST /admin/medications
func (h *AdminMedicationsHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID    string                  `json:"patient_id"`
		Name         string                  `json:"medication_name"`
		Dosage       string                  `json:"dosage"`
		Instructions string                  `json:"instructions"`
		StartDate    string                  `json:"start_date"`
		EndDate      string                  `json:"end_date"`
		Times        medications.IntakeTimes `json:"times"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	profile, err := h.patients.Get(r.Context(), strings.TrimSpace(req.PatientID))
	if err != nil {
		if errors.Is(err, patients.ErrNotFound) {
			http.Error(w, `{"error":"patient not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("admin: patient lookup", "patient_id", req.PatientID, "error", err)
		http.Error(w, `{"error":"failed to look up patient"}`, http.StatusInternalServerError)
		return
	}

	actor := ""
	if subject, ok := identity.SubjectFromContext(r.Context()); ok {
		actor = subject.ID
	}

	med, err := h.medications.Add(r.Context(), medications.Medication{
		PatientID:    profile.ID,
		PatientName:  profile.Name,
		PatientEmail: profile.Email,
		Name:         strings.TrimSpace(req.Name),
		Dosage:       strings.TrimSpace(req.Dosage),
		Instructions: strings.TrimSpace(req.Instructions),
		StartDate:    strings.TrimSpace(req.StartDate),
		EndDate:      strings.TrimSpace(req.EndDate),
		Times:        req.Times,
		AddedBy:      actor,
	})
	if err != nil {
		if errors.Is(err, medications.ErrInvalidMedication) {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
			return
		}
		h.logger.Error("admin: add medication", "patient_id", profile.ID, "error", err)
		http.Error(w, `{"error":"failed to add medication"}`, http.StatusInternalServerError)
		return
	}

	if h.auditor != nil {
		auditErr := h.auditor.Record(r.Context(), audit.Event{
			Type:      audit.EventMedicationAdded,
			SubjectID: profile.ID,
			Actor:     actor,
			Details:   med.Name,
		})
		if auditErr != nil {
			h.logger.Warn("admin: audit record failed", "event_type", audit.EventMedicationAdded, "error", auditErr)
		}
	}
	writeJSON(w, http.StatusCreated, med)
}
