package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/medreminder/internal/model"
)

type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

func scanSchedule(scanner interface{ Scan(...any) error }) (*model.MedicationSchedule, error) {
	var s model.MedicationSchedule
	var start string
	var end sql.NullString
	var active int
	err := scanner.Scan(
		&s.ID, &s.MedicationID, &s.OwnerID, &s.DoseAmount, &s.Recurrence, &s.Timezone,
		&start, &end, &active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.StartDate, err = time.Parse(model.DateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("parse start_date: %w", err)
	}
	if end.Valid {
		t, err := time.Parse(model.DateLayout, end.String)
		if err != nil {
			return nil, fmt.Errorf("parse end_date: %w", err)
		}
		s.EndDate = &t
	}
	s.Active = active != 0
	return &s, nil
}

const scheduleCols = `s.id, s.medication_id, s.owner_id, s.dose_amount, s.recurrence, s.timezone,
	s.start_date, s.end_date, s.active, s.created_at, s.updated_at`

func endDateArg(end *time.Time) any {
	if end == nil {
		return nil
	}
	return end.Format(model.DateLayout)
}

func (st *ScheduleStore) Create(ctx context.Context, s model.MedicationSchedule) (*model.MedicationSchedule, error) {
	result, err := st.db.ExecContext(ctx,
		`INSERT INTO medication_schedules
		 (medication_id, owner_id, dose_amount, recurrence, timezone, start_date, end_date, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		s.MedicationID, s.OwnerID, s.DoseAmount, s.Recurrence, s.Timezone,
		s.StartDate.Format(model.DateLayout), endDateArg(s.EndDate),
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return st.GetByID(ctx, id)
}

func (st *ScheduleStore) GetByID(ctx context.Context, id int64) (*model.MedicationSchedule, error) {
	row := st.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM medication_schedules s WHERE s.id = ?`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

// Update edits the recurrence fields of a schedule. Changes take effect on the
// next scheduler tick; already materialized doses are untouched.
func (st *ScheduleStore) Update(ctx context.Context, s model.MedicationSchedule) (*model.MedicationSchedule, error) {
	_, err := st.db.ExecContext(ctx,
		`UPDATE medication_schedules
		 SET dose_amount = ?, recurrence = ?, timezone = ?, start_date = ?, end_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		s.DoseAmount, s.Recurrence, s.Timezone, s.StartDate.Format(model.DateLayout), endDateArg(s.EndDate), s.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return st.GetByID(ctx, s.ID)
}

// Deactivate soft-deletes a schedule so its dose history is preserved.
func (st *ScheduleStore) Deactivate(ctx context.Context, id int64) error {
	_, err := st.db.ExecContext(ctx,
		`UPDATE medication_schedules SET active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate schedule: %w", err)
	}
	return nil
}

func (st *ScheduleStore) ListByOwner(ctx context.Context, ownerID string, includeInactive bool) ([]model.MedicationSchedule, error) {
	query := `SELECT ` + scheduleCols + ` FROM medication_schedules s WHERE s.owner_id = ?`
	if !includeInactive {
		query += ` AND s.active = 1`
	}
	query += ` ORDER BY s.id`

	rows, err := st.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list schedules by owner: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// ListActive returns every active schedule whose owner is an active user.
func (st *ScheduleStore) ListActive(ctx context.Context) ([]model.MedicationSchedule, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM medication_schedules s
		 JOIN users u ON u.id = s.owner_id
		 WHERE s.active = 1 AND u.active = 1
		 ORDER BY s.id`)
	if err != nil {
		return nil, fmt.Errorf("list active schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func scanSchedules(rows *sql.Rows) ([]model.MedicationSchedule, error) {
	var out []model.MedicationSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
