package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/medreminder/internal/auth"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/store"
)

type MedicationHandler struct {
	meds   *store.MedicationStore
	stock  *stockKeeper
	logger *slog.Logger
}

func NewMedicationHandler(meds *store.MedicationStore, d Dispatcher, lowStockThreshold int, logger *slog.Logger) *MedicationHandler {
	return &MedicationHandler{
		meds:   meds,
		stock:  &stockKeeper{meds: meds, dispatcher: d, threshold: lowStockThreshold, logger: logger},
		logger: logger,
	}
}

type createMedicationRequest struct {
	OwnerID  string `json:"ownerId"`
	Name     string `json:"name"`
	DoseUnit string `json:"doseUnit"`
	Stock    *int   `json:"stock"`
}

// Create handles POST /api/medications
func (h *MedicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMedicationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner, err := resolveOwner(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Stock != nil && *req.Stock < 0 {
		writeError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}

	med, err := h.meds.Create(r.Context(), owner, req.Name, req.DoseUnit, req.Stock)
	if err != nil {
		h.logger.Error("create medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create medication")
		return
	}
	writeJSON(w, http.StatusCreated, med)
}

// List handles GET /api/medications
func (h *MedicationHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, err := resolveOwner(r.Context(), r.URL.Query().Get("ownerId"))
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	meds, err := h.meds.ListByOwner(r.Context(), owner)
	if err != nil {
		h.logger.Error("list medications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list medications")
		return
	}
	if meds == nil {
		meds = []model.Medication{}
	}
	writeJSON(w, http.StatusOK, meds)
}

// load fetches the {id} medication, answering 404 when it is missing or not
// visible to the caller.
func (h *MedicationHandler) load(w http.ResponseWriter, r *http.Request) *model.Medication {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return nil
	}
	med, err := h.meds.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("get medication", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load medication")
		return nil
	}
	if med == nil || !auth.CanActFor(r.Context(), med.OwnerID) {
		writeError(w, http.StatusNotFound, "medication not found")
		return nil
	}
	return med
}

type updateStockRequest struct {
	Stock *int `json:"stock"`
}

// UpdateStock handles PUT /api/medications/{id}/stock. A null stock stops
// tracking. Any update re-arms the low stock notice.
func (h *MedicationHandler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	med := h.load(w, r)
	if med == nil {
		return
	}
	var req updateStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Stock != nil && *req.Stock < 0 {
		writeError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}

	updated, err := h.meds.SetStock(r.Context(), med.ID, req.Stock)
	if err != nil {
		h.logger.Error("set stock", "medication_id", med.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update stock")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type confirmRequest struct {
	Amount float64 `json:"amount"`
}

// Confirm handles POST /api/medications/{id}/confirm, recording an as-needed
// intake that has no dose instance.
func (h *MedicationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	med := h.load(w, r)
	if med == nil {
		return
	}
	req := confirmRequest{Amount: 1}
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	h.stock.confirm(r.Context(), med, nil)
	h.stock.consume(r.Context(), med.ID, req.Amount)

	updated, err := h.meds.GetByID(r.Context(), med.ID)
	if err != nil || updated == nil {
		updated = med
	}
	writeJSON(w, http.StatusOK, updated)
}
