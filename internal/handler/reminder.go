package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/medreminder/internal/model"
)

type ReminderHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewReminderHandler(d Dispatcher, logger *slog.Logger) *ReminderHandler {
	return &ReminderHandler{dispatcher: d, logger: logger}
}

type testReminderRequest struct {
	OwnerID string `json:"ownerId"`
	Kind    string `json:"kind"`
}

// Test handles POST /reminders/test. It sends one synthetic reminder over
// email and push and reports each channel separately.
func (h *ReminderHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req testReminderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	owner, err := resolveOwner(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	var payload model.IntentPayload
	switch req.Kind {
	case "", "medication":
		payload = model.IntentPayload{
			Title: "Test medication reminder",
			Body:  "This is how your medication reminders will look.",
			URL:   "/doses",
			Tag:   "test-medication",
		}
	case "appointment":
		payload = model.IntentPayload{
			Title: "Test appointment reminder",
			Body:  "This is how your appointment reminders will look.",
			URL:   "/appointments",
			Tag:   "test-appointment",
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be medication or appointment")
		return
	}

	out := h.dispatcher.Dispatch(r.Context(), model.Intent{
		OwnerID: owner,
		Kind:    model.IntentReminder,
		Payload: payload,
	})
	if err := out.Err(); err != nil {
		h.logger.Warn("test reminder had failures", "owner_id", owner, "error", err)
	}
	writeJSON(w, http.StatusOK, out)
}
