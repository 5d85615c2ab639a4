package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/dukerupert/medreminder/internal/auth"
	"github.com/dukerupert/medreminder/internal/dose"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/schedule"
	"github.com/dukerupert/medreminder/internal/store"
)

type DoseHandler struct {
	tracker   *dose.Tracker
	schedules *store.ScheduleStore
	meds      *store.MedicationStore
	stock     *stockKeeper
	logger    *slog.Logger
}

func NewDoseHandler(tracker *dose.Tracker, schedules *store.ScheduleStore, meds *store.MedicationStore, d Dispatcher, lowStockThreshold int, logger *slog.Logger) *DoseHandler {
	return &DoseHandler{
		tracker:   tracker,
		schedules: schedules,
		meds:      meds,
		stock:     &stockKeeper{meds: meds, dispatcher: d, threshold: lowStockThreshold, logger: logger},
		logger:    logger,
	}
}

// List handles GET /api/doses?date=YYYY-MM-DD. Each active schedule is
// resolved over that calendar day in its own time zone and the instances are
// created if needed.
func (h *DoseHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := resolveOwner(r.Context(), q.Get("ownerId"))
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	date := time.Now().UTC()
	if raw := q.Get("date"); raw != "" {
		date, err = time.Parse(model.DateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	schedules, err := h.schedules.ListByOwner(r.Context(), owner, false)
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list doses")
		return
	}

	doses := []model.DoseInstance{}
	for _, s := range schedules {
		loc, err := schedule.Location(s)
		if err != nil {
			h.logger.Error("schedule timezone", "schedule_id", s.ID, "error", err)
			continue
		}
		start, end := schedule.DayWindow(date, loc)
		instants, err := schedule.ResolveDueInstants(s, start, end)
		if err != nil {
			h.logger.Error("resolve schedule", "schedule_id", s.ID, "error", err)
			continue
		}
		for _, at := range instants {
			d, err := h.tracker.EnsureInstance(r.Context(), s, at)
			if err != nil {
				h.logger.Error("ensure dose", "schedule_id", s.ID, "error", err)
				writeError(w, http.StatusInternalServerError, "failed to list doses")
				return
			}
			doses = append(doses, *d)
		}
	}

	sort.SliceStable(doses, func(i, j int) bool {
		return doses[i].ScheduledAt.Before(doses[j].ScheduledAt)
	})
	writeJSON(w, http.StatusOK, doses)
}

// Take handles POST /api/doses/{id}/take
func (h *DoseHandler) Take(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, model.ResolutionTaken)
}

// Skip handles POST /api/doses/{id}/skip
func (h *DoseHandler) Skip(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, model.ResolutionSkipped)
}

func (h *DoseHandler) resolve(w http.ResponseWriter, r *http.Request, kind model.ResolutionKind) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	ctx := r.Context()

	current, err := h.tracker.Get(ctx, id)
	if errors.Is(err, dose.ErrNotFound) || (err == nil && !auth.CanActFor(ctx, current.OwnerID)) {
		writeError(w, http.StatusNotFound, "dose not found")
		return
	}
	if err != nil {
		h.logger.Error("get dose", "dose_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dose")
		return
	}

	d, changed, err := h.tracker.Resolve(ctx, id, kind)
	switch {
	case errors.Is(err, dose.ErrConflictingResolution), errors.Is(err, dose.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "dose": d})
		return
	case errors.Is(err, dose.ErrNotFound):
		writeError(w, http.StatusNotFound, "dose not found")
		return
	case err != nil:
		h.logger.Error("resolve dose", "dose_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve dose")
		return
	}

	if changed && kind == model.ResolutionTaken {
		med, err := h.meds.GetByID(ctx, d.MedicationID)
		if err != nil || med == nil {
			h.logger.Error("get medication for confirmation", "medication_id", d.MedicationID, "error", err)
		} else {
			doseID := d.ID
			h.stock.confirm(ctx, med, &doseID)
			h.stock.consume(ctx, med.ID, d.DoseAmount)
		}
	}
	writeJSON(w, http.StatusOK, d)
}
