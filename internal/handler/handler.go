// Package handler holds the JSON HTTP handlers. Every route here runs behind
// middleware.RequireAuth unless noted.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dukerupert/medreminder/internal/auth"
	"github.com/dukerupert/medreminder/internal/dispatch"
	"github.com/dukerupert/medreminder/internal/model"
)

const maxBodyBytes = 1 << 20

// Dispatcher is the notification fan-out used by handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent model.Intent) dispatch.Outcome
	Broadcast(ctx context.Context, payload model.IntentPayload) (dispatch.BroadcastResult, error)
}

var errForbidden = errors.New("not allowed to act for this owner")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func parseIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// resolveOwner returns the owner a request acts for: the requested id when
// given, the caller otherwise. Acting for someone else requires admin.
func resolveOwner(ctx context.Context, requested string) (string, error) {
	if requested == "" {
		return auth.UserID(ctx), nil
	}
	if !auth.CanActFor(ctx, requested) {
		return "", errForbidden
	}
	return requested, nil
}
