package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/registry"
)

// PushRegistry is the part of the subscription registry the push routes use.
type PushRegistry interface {
	UpsertPush(ctx context.Context, ownerID string, keys registry.PushKeys) (*model.PushSubscription, error)
	RemovePush(ctx context.Context, ownerID string) error
}

type PushHandler struct {
	registry   PushRegistry
	dispatcher Dispatcher
	publicKey  string
	logger     *slog.Logger
}

func NewPushHandler(reg PushRegistry, d Dispatcher, vapidPublicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{registry: reg, dispatcher: d, publicKey: vapidPublicKey, logger: logger}
}

type subscribeRequest struct {
	OwnerID  string `json:"ownerId"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceName string `json:"deviceName"`
}

// Subscribe handles POST /push/subscribe. The body mirrors the browser's
// PushSubscription JSON plus ownerId. A new subscription replaces the old one.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner, err := resolveOwner(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.p256dh and keys.auth are required")
		return
	}

	sub, err := h.registry.UpsertPush(r.Context(), owner, registry.PushKeys{
		Endpoint:   req.Endpoint,
		P256dh:     req.Keys.P256dh,
		Auth:       req.Keys.Auth,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		h.logger.Error("save push subscription", "owner_id", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type unsubscribeRequest struct {
	OwnerID string `json:"ownerId"`
}

// Unsubscribe handles POST /push/unsubscribe. Removing a missing
// subscription succeeds.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	owner, err := resolveOwner(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	if err := h.registry.RemovePush(r.Context(), owner); err != nil {
		h.logger.Error("remove push subscription", "owner_id", owner, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to remove subscription")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type broadcastRequest struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	URL   string         `json:"url"`
	Tag   string         `json:"tag"`
	Data  map[string]any `json:"data"`
}

// Broadcast handles POST /push/broadcast (admin only).
func (h *PushHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	res, err := h.dispatcher.Broadcast(r.Context(), model.IntentPayload{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
		Tag:   req.Tag,
		Data:  req.Data,
	})
	if err != nil {
		h.logger.Error("broadcast", "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to list subscriptions")
		return
	}
	h.logger.Info("broadcast sent", "success", res.SuccessCount, "failed", res.FailedCount)
	writeJSON(w, http.StatusOK, res)
}

// VAPIDKey handles GET /push/vapid-key.
func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if h.publicKey == "" {
		writeError(w, http.StatusNotFound, "push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": h.publicKey})
}
