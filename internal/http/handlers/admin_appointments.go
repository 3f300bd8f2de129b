// Package handlers holds the admin JSON endpoints: appointment management,
// closure dates and medication records.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/heartclinic/clinic-assistant/internal/appointments"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/internal/schedule"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// appointmentDirectory is the slice of the appointments layer this handler
// needs: the full roster plus admin status transitions.
type appointmentDirectory interface {
	ListAll(ctx context.Context, status appointments.Status) ([]appointments.Appointment, error)
}

type statusSetter interface {
	SetStatus(ctx context.Context, id string, status appointments.Status, actor string) (*appointments.Appointment, error)
}

// AdminAppointmentsHandler serves the appointment roster and status changes.
type AdminAppointmentsHandler struct {
	directory appointmentDirectory
	service   statusSetter
	logger    *logging.Logger
}

func NewAdminAppointmentsHandler(directory appointmentDirectory, service statusSetter, logger *logging.Logger) *AdminAppointmentsHandler {
	if directory == nil {
		panic("handlers: appointments store required")
	}
	if service == nil {
		panic("handlers: appointments service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminAppointmentsHandler{directory: directory, service: service, logger: logger}
}

// List returns appointments, optionally filtered.
// Route: GET /admin/appointments?status=confirmed&date=2026-03-20
func (h *AdminAppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	status := appointments.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	if status != "" && !status.Valid() {
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date != "" {
		if _, ok := schedule.ParseDate(date); !ok {
			http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
			return
		}
	}

	appts, err := h.directory.ListAll(r.Context(), status)
	if err != nil {
		h.logger.Error("admin: list appointments", "error", err)
		http.Error(w, `{"error":"failed to list appointments"}`, http.StatusInternalServerError)
		return
	}

	if date != "" {
		filtered := appts[:0]
		for _, appt := range appts {
			if appt.Date == date {
				filtered = append(filtered, appt)
			}
		}
		appts = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

// SetStatus applies a status transition to one appointment.
// Route: PATCH /admin/appointments/{id}/status with {"status": "confirmed"}
func (h *AdminAppointmentsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		http.Error(w, `{"error":"missing appointment id"}`, http.StatusBadRequest)
		return
	}

	var req struct {
		Status appointments.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}

	actor := ""
	if subject, ok := identity.SubjectFromContext(r.Context()); ok {
		actor = subject.ID
	}

	appt, err := h.service.SetStatus(r.Context(), id, req.Status, actor)
	if err != nil {
		switch {
		case errors.Is(err, appointments.ErrNotFound):
			http.Error(w, `{"error":"appointment not found"}`, http.StatusNotFound)
		case errors.Is(err, appointments.ErrInvalidStatus):
			http.Error(w, `{"error":"unsupported status transition"}`, http.StatusBadRequest)
		case errors.Is(err, appointments.ErrSlotTaken):
			http.Error(w, `{"error":"time slot is already confirmed for another patient"}`, http.StatusConflict)
		case errors.Is(err, appointments.ErrAlreadyBooked):
			http.Error(w, `{"error":"patient already holds a confirmed appointment"}`, http.StatusConflict)
		case errors.Is(err, appointments.ErrNoActiveAppointment):
			http.Error(w, `{"error":"appointment is not in a cancellable state"}`, http.StatusConflict)
		default:
			h.logger.Error("admin: set appointment status", "appointment_id", id, "error", err)
			http.Error(w, `{"error":"failed to update appointment"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, appt)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
