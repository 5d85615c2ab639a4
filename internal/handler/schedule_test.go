package handler

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/dukerupert/medreminder/internal/dose"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/store"
)

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func seedMedication(t *testing.T, ms *store.MedicationStore, owner string, stock *int) *model.Medication {
	t.Helper()
	med, err := ms.Create(context.Background(), owner, "Lisinopril", "tablet", stock)
	if err != nil {
		t.Fatalf("seed medication: %v", err)
	}
	return med
}

func newTestTracker(db *sql.DB) *dose.Tracker {
	return dose.NewTracker(store.NewDoseStore(db), dose.DefaultWindows(), testLogger())
}

func TestScheduleCreate(t *testing.T) {
	db := setupTestDB(t)
	ms := store.NewMedicationStore(db)
	med := seedMedication(t, ms, "u1", nil)
	h := NewScheduleHandler(store.NewScheduleStore(db), ms, newTestTracker(db), testLogger())

	valid := map[string]any{
		"medicationId": med.ID,
		"doseAmount":   1,
		"recurrence":   "FREQ=DAILY;TIMES=08:00,20:00",
		"timezone":     "America/Denver",
		"startDate":    "2026-01-01",
	}
	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(t, http.MethodPost, "/api/schedules", "u1", model.RolePatient, valid))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[model.MedicationSchedule](t, rec)
	if !got.Active || got.Timezone != "America/Denver" || got.OwnerID != "u1" {
		t.Errorf("schedule = %+v", got)
	}

	tests := []struct {
		name   string
		user   string
		mutate func(map[string]any)
		want   int
	}{
		{"bad recurrence", "u1", func(b map[string]any) { b["recurrence"] = "FREQ=SOMETIMES" }, http.StatusBadRequest},
		{"end before start", "u1", func(b map[string]any) { b["endDate"] = "2025-12-31" }, http.StatusBadRequest},
		{"bad date", "u1", func(b map[string]any) { b["startDate"] = "01/01/2026" }, http.StatusBadRequest},
		{"bad timezone", "u1", func(b map[string]any) { b["timezone"] = "Mars/Olympus" }, http.StatusBadRequest},
		{"foreign medication", "u2", func(b map[string]any) {}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := map[string]any{}
			for k, v := range valid {
				body[k] = v
			}
			tt.mutate(body)
			rec := httptest.NewRecorder()
			h.Create(rec, newRequest(t, http.MethodPost, "/api/schedules", tt.user, model.RolePatient, body))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestScheduleUpdateAndDelete(t *testing.T) {
	db := setupTestDB(t)
	ms := store.NewMedicationStore(db)
	ss := store.NewScheduleStore(db)
	med := seedMedication(t, ms, "u1", nil)
	h := NewScheduleHandler(ss, ms, newTestTracker(db), testLogger())

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(t, http.MethodPost, "/api/schedules", "u1", model.RolePatient, map[string]any{
		"medicationId": med.ID, "doseAmount": 1, "recurrence": "FREQ=DAILY;TIMES=08:00", "startDate": "2026-01-01",
	}))
	created := decode[model.MedicationSchedule](t, rec)

	req := newRequest(t, http.MethodPut, "/api/schedules/x", "u1", model.RolePatient, map[string]any{
		"doseAmount": 2, "recurrence": "FREQ=WEEKLY;BYDAY=MO,TH;TIMES=09:30", "startDate": "2026-02-01",
	})
	req.SetPathValue("id", itoa(created.ID))
	rec = httptest.NewRecorder()
	h.Update(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[model.MedicationSchedule](t, rec)
	if updated.DoseAmount != 2 || updated.Recurrence != "FREQ=WEEKLY;BYDAY=MO,TH;TIMES=09:30" {
		t.Errorf("updated = %+v", updated)
	}

	req = newRequest(t, http.MethodDelete, "/api/schedules/x", "u1", model.RolePatient, nil)
	req.SetPathValue("id", itoa(created.ID))
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	got, err := ss.GetByID(context.Background(), created.ID)
	if err != nil || got == nil {
		t.Fatalf("schedule row should remain: %v", err)
	}
	if got.Active {
		t.Error("schedule should be inactive")
	}

	rec = httptest.NewRecorder()
	h.List(rec, newRequest(t, http.MethodGet, "/api/schedules", "u1", model.RolePatient, nil))
	if list := decode[[]model.MedicationSchedule](t, rec); len(list) != 0 {
		t.Errorf("active list = %d, want 0", len(list))
	}
	rec = httptest.NewRecorder()
	h.List(rec, newRequest(t, http.MethodGet, "/api/schedules?includeInactive=true", "u1", model.RolePatient, nil))
	if list := decode[[]model.MedicationSchedule](t, rec); len(list) != 1 {
		t.Errorf("full list = %d, want 1", len(list))
	}
}

func TestScheduleChangesSkipOutdatedDoses(t *testing.T) {
	db := setupTestDB(t)
	ms := store.NewMedicationStore(db)
	ss := store.NewScheduleStore(db)
	tracker := newTestTracker(db)
	med := seedMedication(t, ms, "u1", nil)
	h := NewScheduleHandler(ss, ms, tracker, testLogger())
	ctx := context.Background()

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(t, http.MethodPost, "/api/schedules", "u1", model.RolePatient, map[string]any{
		"medicationId": med.ID, "doseAmount": 1, "recurrence": "FREQ=DAILY;TIMES=08:00", "startDate": "2026-01-01",
	}))
	created := decode[model.MedicationSchedule](t, rec)

	day := time.Date(2027, 1, 5, 0, 0, 0, 0, time.UTC)
	morning, err := tracker.EnsureInstance(ctx, created, day.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}

	req := newRequest(t, http.MethodPut, "/api/schedules/x", "u1", model.RolePatient, map[string]any{
		"doseAmount": 1, "recurrence": "FREQ=DAILY;TIMES=09:00", "startDate": "2026-01-01",
	})
	req.SetPathValue("id", itoa(created.ID))
	rec = httptest.NewRecorder()
	h.Update(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	updated := decode[model.MedicationSchedule](t, rec)

	got, _ := tracker.Get(ctx, morning.ID)
	if got.State != model.DoseStateSkipped {
		t.Errorf("08:00 dose after edit: state = %s, want skipped", got.State)
	}

	// doses of the new rule survive edits and are skipped on delete
	late, err := tracker.EnsureInstance(ctx, updated, day.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	reminded, err := tracker.EnsureInstance(ctx, updated, day.AddDate(0, 0, 1).Add(9*time.Hour))
	if err != nil {
		t.Fatalf("EnsureInstance: %v", err)
	}
	if err := tracker.RecordReminderSent(ctx, reminded.ID); err != nil {
		t.Fatalf("RecordReminderSent: %v", err)
	}

	req = newRequest(t, http.MethodPut, "/api/schedules/x", "u1", model.RolePatient, map[string]any{
		"doseAmount": 2, "recurrence": "FREQ=DAILY;TIMES=09:00", "startDate": "2026-01-01",
	})
	req.SetPathValue("id", itoa(created.ID))
	rec = httptest.NewRecorder()
	h.Update(rec, req)
	if got, _ := tracker.Get(ctx, late.ID); got.State != model.DoseStatePending {
		t.Errorf("09:00 dose after amount edit: state = %s, want pending", got.State)
	}

	req = newRequest(t, http.MethodDelete, "/api/schedules/x", "u1", model.RolePatient, nil)
	req.SetPathValue("id", itoa(created.ID))
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	for _, id := range []int64{late.ID, reminded.ID} {
		got, _ := tracker.Get(ctx, id)
		if got.State != model.DoseStateSkipped {
			t.Errorf("dose %d after delete: state = %s, want skipped", id, got.State)
		}
	}
	if got, _ := tracker.Get(ctx, morning.ID); got.State != model.DoseStateSkipped {
		t.Errorf("resolved dose changed on delete: state = %s", got.State)
	}
}
