package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/heartclinic/clinic-assistant/internal/audit"
	"github.com/heartclinic/clinic-assistant/internal/closures"
	"github.com/heartclinic/clinic-assistant/internal/identity"
	"github.com/heartclinic/clinic-assistant/internal/schedule"
	"github.com/heartclinic/clinic-assistant/pkg/logging"
)

// closureCalendar is the slice of the closures store this handler needs.
type closureCalendar interface {
	List(ctx context.Context) ([]closures.Entry, error)
	Add(ctx context.Context, entry closures.Entry) (*closures.Entry, error)
	Remove(ctx context.Context, date string) error
}

// AdminClosuresHandler manages the clinic closure calendar.
type AdminClosuresHandler struct {
	store   closureCalendar
	auditor audit.Recorder
	logger  *logging.Logger
}

func NewAdminClosuresHandler(store closureCalendar, auditor audit.Recorder, logger *logging.Logger) *AdminClosuresHandler {
	if store == nil {
		panic("handlers: closures store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminClosuresHandler{store: store, auditor: auditor, logger: logger}
}

// List returns every closure entry, oldest date first.
// Route: GET /admin/closures
func (h *AdminClosuresHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("admin: list closures", "error", err)
		http.Error(w, `{"error":"failed to list closure dates"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closures": entries})
}

// Add closes a date. The reason defaults when omitted.
// Route: POST /admin/closures with {"date": "2026-03-20", "reason": "..."}
func (h *AdminClosuresHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date   string `json:"date"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if _, ok := schedule.ParseDate(strings.TrimSpace(req.Date)); !ok {
		http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}

	actor := ""
	if subject, ok := identity.SubjectFromContext(r.Context()); ok {
		actor = subject.ID
	}

	entry, err := h.store.Add(r.Context(), closures.Entry{
		Date:    strings.TrimSpace(req.Date),
		Reason:  strings.TrimSpace(req.Reason),
		AddedBy: actor,
	})
	if err != nil {
		if errors.Is(err, closures.ErrAlreadyClosed) {
			http.Error(w, `{"error":"date is already closed"}`, http.StatusConflict)
			return
		}
		h.logger.Error("admin: add closure", "date", req.Date, "error", err)
		http.Error(w, `{"error":"failed to add closure date"}`, http.StatusInternalServerError)
		return
	}

	h.record(r, audit.Event{
		Type:    audit.EventClosureAdded,
		Date:    entry.Date,
		Actor:   actor,
		Details: entry.Reason,
	})
	writeJSON(w, http.StatusCreated, entry)
}

// Remove reopens a closed date.
// Route: DELETE /admin/closures/{date}
func (h *AdminClosuresHandler) Remove(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(chi.URLParam(r, "date"))
	if _, ok := schedule.ParseDate(date); !ok {
		http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}

	if err := h.store.Remove(r.Context(), date); err != nil {
		h.logger.Error("admin: remove closure", "date", date, "error", err)
		http.Error(w, `{"error":"failed to remove closure date"}`, http.StatusInternalServerError)
		return
	}

	actor := ""
	if subject, ok := identity.SubjectFromContext(r.Context()); ok {
		actor = subject.ID
	}
	h.record(r, audit.Event{
		Type:  audit.EventClosureRemoved,
		Date:  date,
		Actor: actor,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminClosuresHandler) record(r *http.Request, event audit.Event) {
	if h.auditor == nil {
		return
	}
	if err := h.auditor.Record(r.Context(), event); err != nil {
		h.logger.Warn("admin: audit record failed", "event_type", event.Type, "error", err)
	}
}
