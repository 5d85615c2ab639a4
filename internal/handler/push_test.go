package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/medreminder/internal/dispatch"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/registry"
	"github.com/dukerupert/medreminder/internal/store"
)

func subscribeBody(owner, endpoint string) map[string]any {
	return map[string]any{
		"ownerId":  owner,
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": "key", "auth": "secret"},
	}
}

func TestPushSubscribeAndUnsubscribe(t *testing.T) {
	db := setupTestDB(t)
	ps := store.NewPushStore(db)
	reg := registry.New(store.NewUserStore(db), ps)
	h := NewPushHandler(reg, &fakeDispatcher{}, "pub", testLogger())
	ctx := context.Background()

	rec := httptest.NewRecorder()
	h.Subscribe(rec, newRequest(t, http.MethodPost, "/push/subscribe", "u1", model.RolePatient,
		subscribeBody("u1", "https://push.example/a")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d, body %s", rec.Code, rec.Body.String())
	}

	// A second subscription replaces the first.
	rec = httptest.NewRecorder()
	h.Subscribe(rec, newRequest(t, http.MethodPost, "/push/subscribe", "u1", model.RolePatient,
		subscribeBody("", "https://push.example/b")))
	if rec.Code != http.StatusCreated {
		t.Fatalf("resubscribe status = %d", rec.Code)
	}
	sub, err := ps.GetByOwner(ctx, "u1")
	if err != nil || sub == nil {
		t.Fatalf("GetByOwner: %v, %v", sub, err)
	}
	if sub.Endpoint != "https://push.example/b" {
		t.Errorf("endpoint = %q, want newest", sub.Endpoint)
	}

	rec = httptest.NewRecorder()
	h.Unsubscribe(rec, newRequest(t, http.MethodPost, "/push/unsubscribe", "u1", model.RolePatient,
		map[string]string{"ownerId": "u1"}))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unsubscribe status = %d", rec.Code)
	}
	if sub, _ := ps.GetByOwner(ctx, "u1"); sub != nil {
		t.Error("subscription should be gone")
	}

	// Unsubscribing again is harmless.
	rec = httptest.NewRecorder()
	h.Unsubscribe(rec, newRequest(t, http.MethodPost, "/push/unsubscribe", "u1", model.RolePatient,
		map[string]string{}))
	if rec.Code != http.StatusNoContent {
		t.Errorf("second unsubscribe status = %d", rec.Code)
	}
}

func TestPushSubscribe_Rejects(t *testing.T) {
	db := setupTestDB(t)
	reg := registry.New(store.NewUserStore(db), store.NewPushStore(db))
	h := NewPushHandler(reg, &fakeDispatcher{}, "pub", testLogger())

	rec := httptest.NewRecorder()
	h.Subscribe(rec, newRequest(t, http.MethodPost, "/push/subscribe", "u1", model.RolePatient,
		subscribeBody("u2", "https://push.example/a")))
	if rec.Code != http.StatusForbidden {
		t.Errorf("other owner status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Subscribe(rec, newRequest(t, http.MethodPost, "/push/subscribe", "u1", model.RolePatient,
		map[string]any{"endpoint": "https://push.example/a"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing keys status = %d, want 400", rec.Code)
	}
}

func TestPushBroadcast(t *testing.T) {
	fd := &fakeDispatcher{broadcast: dispatch.BroadcastResult{SuccessCount: 3, FailedCount: 2}}
	h := NewPushHandler(nil, fd, "pub", testLogger())

	rec := httptest.NewRecorder()
	h.Broadcast(rec, newRequest(t, http.MethodPost, "/push/broadcast", "root", "admin",
		map[string]string{"title": "Maintenance", "body": "Tonight at 10"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[dispatch.BroadcastResult](t, rec)
	if got.SuccessCount != 3 || got.FailedCount != 2 {
		t.Errorf("result = %+v", got)
	}
	if len(fd.payloads) != 1 || fd.payloads[0].Title != "Maintenance" {
		t.Errorf("payloads = %+v", fd.payloads)
	}

	rec = httptest.NewRecorder()
	h.Broadcast(rec, newRequest(t, http.MethodPost, "/push/broadcast", "root", "admin", map[string]string{}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing title status = %d", rec.Code)
	}
}

func TestVAPIDKey(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPushHandler(nil, nil, "BPub", testLogger()).VAPIDKey(rec, httptest.NewRequest(http.MethodGet, "/push/vapid-key", nil))
	if got := decode[map[string]string](t, rec); got["publicKey"] != "BPub" {
		t.Errorf("publicKey = %q", got["publicKey"])
	}

	rec = httptest.NewRecorder()
	NewPushHandler(nil, nil, "", testLogger()).VAPIDKey(rec, httptest.NewRequest(http.MethodGet, "/push/vapid-key", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured status = %d", rec.Code)
	}
}
