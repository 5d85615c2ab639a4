package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/medreminder/internal/auth"
	"github.com/dukerupert/medreminder/internal/dose"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/schedule"
	"github.com/dukerupert/medreminder/internal/store"
)

type ScheduleHandler struct {
	schedules *store.ScheduleStore
	meds      *store.MedicationStore
	tracker   *dose.Tracker
	logger    *slog.Logger
}

func NewScheduleHandler(schedules *store.ScheduleStore, meds *store.MedicationStore, tracker *dose.Tracker, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, meds: meds, tracker: tracker, logger: logger}
}

type scheduleRequest struct {
	OwnerID      string  `json:"ownerId"`
	MedicationID int64   `json:"medicationId"`
	DoseAmount   float64 `json:"doseAmount"`
	Recurrence   string  `json:"recurrence"`
	Timezone     string  `json:"timezone"`
	StartDate    string  `json:"startDate"`
	EndDate      *string `json:"endDate"`
}

// apply copies the request onto s. Dates use model.DateLayout.
func (req scheduleRequest) apply(s *model.MedicationSchedule) error {
	s.DoseAmount = req.DoseAmount
	s.Recurrence = req.Recurrence
	s.Timezone = req.Timezone
	start, err := time.Parse(model.DateLayout, req.StartDate)
	if err != nil {
		return err
	}
	s.StartDate = start
	s.EndDate = nil
	if req.EndDate != nil && *req.EndDate != "" {
		end, err := time.Parse(model.DateLayout, *req.EndDate)
		if err != nil {
			return err
		}
		s.EndDate = &end
	}
	return nil
}

// Create handles POST /api/schedules
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner, err := resolveOwner(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	med, err := h.meds.GetByID(r.Context(), req.MedicationID)
	if err != nil {
		h.logger.Error("get medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load medication")
		return
	}
	if med == nil || med.OwnerID != owner {
		writeError(w, http.StatusBadRequest, "unknown medication")
		return
	}

	s := model.MedicationSchedule{MedicationID: med.ID, OwnerID: owner}
	if err := req.apply(&s); err != nil {
		writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}
	if err := schedule.Validate(s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.schedules.Create(r.Context(), s)
	if err != nil {
		h.logger.Error("create schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/schedules. Inactive schedules are included with
// ?includeInactive=true.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := resolveOwner(r.Context(), q.Get("ownerId"))
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	list, err := h.schedules.ListByOwner(r.Context(), owner, q.Get("includeInactive") == "true")
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list schedules")
		return
	}
	if list == nil {
		list = []model.MedicationSchedule{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ScheduleHandler) load(w http.ResponseWriter, r *http.Request) *model.MedicationSchedule {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil
	}
	s, err := h.schedules.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get schedule", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return nil
	}
	if s == nil || !auth.CanActFor(r.Context(), s.OwnerID) {
		writeError(w, http.StatusNotFound, "schedule not found")
		return nil
	}
	return s
}

// Update handles PUT /api/schedules/{id}. Pending doses the new rule no
// longer produces are skipped.
func (h *ScheduleHandler) Update(w http.ResponseWriter, r *http.Request) {
	s := h.load(w, r)
	if s == nil {
		return
	}
	if !s.Active {
		writeError(w, http.StatusConflict, "schedule is inactive")
		return
	}
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.apply(s); err != nil {
		writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
		return
	}
	if err := schedule.Validate(*s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.schedules.Update(r.Context(), *s)
	if err != nil {
		h.logger.Error("update schedule", "schedule_id", s.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update schedule")
		return
	}
	h.skipOutdated(r, *updated)
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/schedules/{id} as a soft delete. Its open doses
// are skipped.
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	s := h.load(w, r)
	if s == nil {
		return
	}
	if err := h.schedules.Deactivate(r.Context(), s.ID); err != nil {
		h.logger.Error("deactivate schedule", "schedule_id", s.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}
	s.Active = false
	h.skipOutdated(r, *s)
	w.WriteHeader(http.StatusNoContent)
}

// skipOutdated failures are logged only; the next tick skips leftover
// pending doses.
func (h *ScheduleHandler) skipOutdated(r *http.Request, s model.MedicationSchedule) {
	n, err := h.tracker.SkipOutdated(r.Context(), s)
	if err != nil {
		h.logger.Error("skip outdated doses", "schedule_id", s.ID, "error", err)
		return
	}
	if n > 0 {
		h.logger.Info("skipped outdated doses", "schedule_id", s.ID, "count", n)
	}
}
