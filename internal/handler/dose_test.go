package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/medreminder/internal/dose"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/store"
)

type doseFixture struct {
	h   *DoseHandler
	fd  *fakeDispatcher
	ms  *store.MedicationStore
	med *model.Medication
}

func newDoseFixture(t *testing.T, stock *int, threshold int) *doseFixture {
	t.Helper()
	return newDoseFixtureWithAmount(t, stock, threshold, 1)
}

func newDoseFixtureWithAmount(t *testing.T, stock *int, threshold int, amount float64) *doseFixture {
	t.Helper()
	db := setupTestDB(t)
	ms := store.NewMedicationStore(db)
	ss := store.NewScheduleStore(db)
	med := seedMedication(t, ms, "u1", stock)

	_, err := ss.Create(context.Background(), model.MedicationSchedule{
		MedicationID: med.ID,
		OwnerID:      "u1",
		DoseAmount:   amount,
		Recurrence:   "FREQ=DAILY;TIMES=08:00",
		Timezone:     "UTC",
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatal(err)
	}

	fd := &fakeDispatcher{}
	tracker := dose.NewTracker(store.NewDoseStore(db), dose.DefaultWindows(), testLogger())
	return &doseFixture{
		h:   NewDoseHandler(tracker, ss, ms, fd, threshold, testLogger()),
		fd:  fd,
		ms:  ms,
		med: med,
	}
}

func (f *doseFixture) list(t *testing.T, date string) []model.DoseInstance {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.List(rec, newRequest(t, http.MethodGet, "/api/doses?date="+date, "u1", model.RolePatient, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[[]model.DoseInstance](t, rec)
}

func (f *doseFixture) act(t *testing.T, action func(http.ResponseWriter, *http.Request), id int64, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := newRequest(t, http.MethodPost, "/api/doses/x", user, model.RolePatient, nil)
	req.SetPathValue("id", itoa(id))
	rec := httptest.NewRecorder()
	action(rec, req)
	return rec
}

func TestDoseList_MaterializesCalendarDay(t *testing.T) {
	f := newDoseFixture(t, nil, 5)

	doses := f.list(t, "2026-03-10")
	if len(doses) != 1 {
		t.Fatalf("doses = %d, want 1", len(doses))
	}
	want := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if !doses[0].ScheduledAt.Equal(want) {
		t.Errorf("scheduledAt = %s, want %s", doses[0].ScheduledAt, want)
	}
	if doses[0].State != model.DoseStatePending {
		t.Errorf("state = %s", doses[0].State)
	}

	again := f.list(t, "2026-03-10")
	if len(again) != 1 || again[0].ID != doses[0].ID {
		t.Errorf("listing twice must return the same instance, got %+v", again)
	}

	if before := f.list(t, "2025-12-31"); len(before) != 0 {
		t.Errorf("doses before start date = %d", len(before))
	}
}

func TestDoseList_BadDate(t *testing.T) {
	f := newDoseFixture(t, nil, 5)
	rec := httptest.NewRecorder()
	f.h.List(rec, newRequest(t, http.MethodGet, "/api/doses?date=tomorrow", "u1", model.RolePatient, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDoseTake_ConfirmsOnceAndDecrementsStock(t *testing.T) {
	f := newDoseFixture(t, intPtr(10), 5)
	d := f.list(t, "2026-03-10")[0]

	rec := f.act(t, f.h.Take, d.ID, "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("take status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := decode[model.DoseInstance](t, rec)
	if got.State != model.DoseStateTaken {
		t.Errorf("state = %s", got.State)
	}

	// Same resolution again is a no-op.
	if rec := f.act(t, f.h.Take, d.ID, "u1"); rec.Code != http.StatusOK {
		t.Errorf("repeat take status = %d", rec.Code)
	}

	kinds := f.fd.kinds()
	if len(kinds) != 1 || kinds[0] != model.IntentConfirmation {
		t.Errorf("intents = %v, want one confirmation", kinds)
	}
	med, _ := f.ms.GetByID(context.Background(), f.med.ID)
	if med.Stock == nil || *med.Stock != 9 {
		t.Errorf("stock = %v, want 9", med.Stock)
	}
}

func TestDoseTake_StockCountedInDoseUnits(t *testing.T) {
	// 1500 mg on hand, 500 mg per dose
	f := newDoseFixtureWithAmount(t, intPtr(1500), 600, 500)
	d := f.list(t, "2026-03-10")[0]

	if rec := f.act(t, f.h.Take, d.ID, "u1"); rec.Code != http.StatusOK {
		t.Fatalf("take status = %d, body %s", rec.Code, rec.Body.String())
	}
	med, _ := f.ms.GetByID(context.Background(), f.med.ID)
	if med.Stock == nil || *med.Stock != 1000 {
		t.Errorf("stock = %v, want 1000", med.Stock)
	}
	for _, k := range f.fd.kinds() {
		if k == model.IntentLowStock {
			t.Error("1000 mg left is above the threshold")
		}
	}
}

func TestStockUnits(t *testing.T) {
	tests := []struct {
		amount float64
		want   int
	}{
		{1, 1},
		{2, 2},
		{0.5, 1},
		{500, 500},
		{0, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := stockUnits(tt.amount); got != tt.want {
			t.Errorf("stockUnits(%v) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestDoseSkipAfterTake_Conflicts(t *testing.T) {
	f := newDoseFixture(t, nil, 5)
	d := f.list(t, "2026-03-10")[0]

	if rec := f.act(t, f.h.Take, d.ID, "u1"); rec.Code != http.StatusOK {
		t.Fatalf("take status = %d", rec.Code)
	}
	rec := f.act(t, f.h.Skip, d.ID, "u1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("skip status = %d, want 409", rec.Code)
	}
}

func TestDoseTake_ForeignOrMissing(t *testing.T) {
	f := newDoseFixture(t, nil, 5)
	d := f.list(t, "2026-03-10")[0]

	if rec := f.act(t, f.h.Take, d.ID, "u2"); rec.Code != http.StatusNotFound {
		t.Errorf("foreign take status = %d, want 404", rec.Code)
	}
	if rec := f.act(t, f.h.Take, 9999, "u1"); rec.Code != http.StatusNotFound {
		t.Errorf("missing take status = %d, want 404", rec.Code)
	}
}

func TestDoseTake_LowStockNotifiesOnce(t *testing.T) {
	f := newDoseFixture(t, intPtr(2), 1)
	first := f.list(t, "2026-03-10")[0]
	second := f.list(t, "2026-03-11")[0]

	f.act(t, f.h.Take, first.ID, "u1")
	f.act(t, f.h.Take, second.ID, "u1")

	var lowStock int
	for _, k := range f.fd.kinds() {
		if k == model.IntentLowStock {
			lowStock++
		}
	}
	if lowStock != 1 {
		t.Errorf("low stock intents = %d, want 1", lowStock)
	}
	med, _ := f.ms.GetByID(context.Background(), f.med.ID)
	if *med.Stock != 0 {
		t.Errorf("stock = %d, want 0", *med.Stock)
	}
}
