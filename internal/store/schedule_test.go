package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dukerupert/medreminder/internal/model"
)

func seedSchedule(t *testing.T, db *sql.DB, ownerID, rule string) *model.MedicationSchedule {
	t.Helper()
	ctx := context.Background()
	med, err := NewMedicationStore(db).Create(ctx, ownerID, "Med", "mg", nil)
	if err != nil {
		t.Fatalf("seed medication: %v", err)
	}
	s, err := NewScheduleStore(db).Create(ctx, model.MedicationSchedule{
		MedicationID: med.ID,
		OwnerID:      ownerID,
		DoseAmount:   1,
		Recurrence:   rule,
		Timezone:     "UTC",
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	return s
}

func TestScheduleCreateRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	ss := NewScheduleStore(db)
	ctx := context.Background()

	med, _ := NewMedicationStore(db).Create(ctx, "u1", "Med", "mg", nil)
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	s, err := ss.Create(ctx, model.MedicationSchedule{
		MedicationID: med.ID,
		OwnerID:      "u1",
		DoseAmount:   2.5,
		Recurrence:   "FREQ=DAILY;TIMES=08:00",
		Timezone:     "Europe/Berlin",
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      &end,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !s.Active {
		t.Error("new schedule should be active")
	}
	if s.DoseAmount != 2.5 || s.Timezone != "Europe/Berlin" {
		t.Errorf("got %+v", s)
	}
	if s.EndDate == nil || !s.EndDate.Equal(end) {
		t.Errorf("end date = %v, want %v", s.EndDate, end)
	}
}

func TestScheduleUpdate(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	s := seedSchedule(t, db, "u1", "FREQ=DAILY;TIMES=08:00")
	ss := NewScheduleStore(db)

	s.Recurrence = "FREQ=TIMESDAILY;TIMES=08:00,20:00"
	s.DoseAmount = 2
	updated, err := ss.Update(context.Background(), *s)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Recurrence != "FREQ=TIMESDAILY;TIMES=08:00,20:00" || updated.DoseAmount != 2 {
		t.Errorf("got %+v", updated)
	}
}

func TestScheduleListActiveSkipsInactive(t *testing.T) {
	db := setupTestDB(t)
	seedUser(t, db, "u1")
	seedUser(t, db, "u2")
	ss := NewScheduleStore(db)
	ctx := context.Background()

	keep := seedSchedule(t, db, "u1", "FREQ=DAILY;TIMES=08:00")
	dropped := seedSchedule(t, db, "u1", "FREQ=DAILY;TIMES=09:00")
	seedSchedule(t, db, "u2", "FREQ=DAILY;TIMES=10:00")

	if err := ss.Deactivate(ctx, dropped.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := NewUserStore(db).SetActive(ctx, "u2", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	active, err := ss.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 || active[0].ID != keep.ID {
		t.Errorf("ListActive = %+v, want only schedule %d", active, keep.ID)
	}

	all, _ := ss.ListByOwner(ctx, "u1", true)
	if len(all) != 2 {
		t.Errorf("ListByOwner(includeInactive) = %d, want 2", len(all))
	}
	onlyActive, _ := ss.ListByOwner(ctx, "u1", false)
	if len(onlyActive) != 1 {
		t.Errorf("ListByOwner = %d, want 1", len(onlyActive))
	}
}
