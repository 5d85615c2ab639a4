package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/medreminder/internal/model"
)

// DoseStore persists dose instances. Every state change is a conditional
// UPDATE keyed on the current state, so concurrent writers cannot both win.
type DoseStore struct {
	db *sql.DB
}

func NewDoseStore(db *sql.DB) *DoseStore {
	return &DoseStore{db: db}
}

func scanDose(scanner interface{ Scan(...any) error }) (*model.DoseInstance, error) {
	var d model.DoseInstance
	var scheduledAt int64
	var remindedAt, escalatedAt, resolvedAt sql.NullInt64
	var kind sql.NullString
	err := scanner.Scan(
		&d.ID, &d.ScheduleID, &d.MedicationID, &d.OwnerID, &scheduledAt, &d.DoseAmount,
		&d.State, &remindedAt, &escalatedAt, &resolvedAt, &kind,
	)
	if err != nil {
		return nil, err
	}
	d.ScheduledAt = time.Unix(scheduledAt, 0).UTC()
	d.RemindedAt = fromUnix(remindedAt)
	d.EscalatedAt = fromUnix(escalatedAt)
	d.ResolvedAt = fromUnix(resolvedAt)
	if kind.Valid {
		k := model.ResolutionKind(kind.String)
		d.ResolutionKind = &k
	}
	return &d, nil
}

const doseCols = `id, schedule_id, medication_id, owner_id, scheduled_at, dose_amount,
	state, reminded_at, escalated_at, resolved_at, resolution_kind`

func fromUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}

// Ensure returns the instance for (scheduleID, scheduledAt), creating it in
// the pending state if it does not exist yet.
func (s *DoseStore) Ensure(ctx context.Context, scheduleID, medicationID int64, ownerID string, scheduledAt time.Time, doseAmount float64) (*model.DoseInstance, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dose_instances (schedule_id, medication_id, owner_id, scheduled_at, dose_amount, state)
		 VALUES (?, ?, ?, ?, ?, 'pending')
		 ON CONFLICT(schedule_id, scheduled_at) DO NOTHING`,
		scheduleID, medicationID, ownerID, scheduledAt.Unix(), doseAmount,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure dose instance: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+doseCols+` FROM dose_instances WHERE schedule_id = ? AND scheduled_at = ?`,
		scheduleID, scheduledAt.Unix(),
	)
	d, err := scanDose(row)
	if err != nil {
		return nil, fmt.Errorf("get ensured dose instance: %w", err)
	}
	return d, nil
}

func (s *DoseStore) GetByID(ctx context.Context, id int64) (*model.DoseInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+doseCols+` FROM dose_instances WHERE id = ?`, id)
	d, err := scanDose(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dose instance: %w", err)
	}
	return d, nil
}

// MarkReminded moves a pending instance to reminded. It reports false when the
// instance was not pending.
func (s *DoseStore) MarkReminded(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.transition(ctx, "mark reminded",
		`UPDATE dose_instances SET state = 'reminded', reminded_at = ? WHERE id = ? AND state = 'pending'`,
		at.Unix(), id,
	)
}

// MarkEscalated moves a reminded instance to escalated.
func (s *DoseStore) MarkEscalated(ctx context.Context, id int64, at time.Time) (bool, error) {
	return s.transition(ctx, "mark escalated",
		`UPDATE dose_instances SET state = 'escalated', escalated_at = ? WHERE id = ? AND state = 'reminded'`,
		at.Unix(), id,
	)
}

// MarkResolved moves a non-terminal instance to the terminal state named by kind.
func (s *DoseStore) MarkResolved(ctx context.Context, id int64, kind model.ResolutionKind, at time.Time) (bool, error) {
	return s.transition(ctx, "mark resolved",
		`UPDATE dose_instances SET state = ?, resolution_kind = ?, resolved_at = ?
		 WHERE id = ? AND state IN ('pending', 'reminded', 'escalated')`,
		string(kind), string(kind), at.Unix(), id,
	)
}

func (s *DoseStore) transition(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n == 1, nil
}

// ListPending returns pending instances with after < scheduled_at <= upTo,
// oldest first.
func (s *DoseStore) ListPending(ctx context.Context, after, upTo time.Time) ([]model.DoseInstance, error) {
	return s.list(ctx, "list pending doses",
		`SELECT `+doseCols+` FROM dose_instances
		 WHERE state = 'pending' AND scheduled_at > ? AND scheduled_at <= ?
		 ORDER BY scheduled_at, id`,
		after.Unix(), upTo.Unix(),
	)
}

// ListRemindedBefore returns reminded instances whose reminder went out at or
// before cutoff.
func (s *DoseStore) ListRemindedBefore(ctx context.Context, cutoff time.Time) ([]model.DoseInstance, error) {
	return s.list(ctx, "list reminded doses",
		`SELECT `+doseCols+` FROM dose_instances
		 WHERE state = 'reminded' AND reminded_at <= ?
		 ORDER BY scheduled_at, id`,
		cutoff.Unix(),
	)
}

// ListOpenBySchedule returns the unresolved instances of a schedule, oldest first.
func (s *DoseStore) ListOpenBySchedule(ctx context.Context, scheduleID int64) ([]model.DoseInstance, error) {
	return s.list(ctx, "list open doses",
		`SELECT `+doseCols+` FROM dose_instances
		 WHERE schedule_id = ? AND state IN ('pending', 'reminded', 'escalated')
		 ORDER BY scheduled_at, id`,
		scheduleID,
	)
}

// ListByOwnerBetween returns an owner's instances with from <= scheduled_at < to.
func (s *DoseStore) ListByOwnerBetween(ctx context.Context, ownerID string, from, to time.Time) ([]model.DoseInstance, error) {
	return s.list(ctx, "list doses by owner",
		`SELECT `+doseCols+` FROM dose_instances
		 WHERE owner_id = ? AND scheduled_at >= ? AND scheduled_at < ?
		 ORDER BY scheduled_at, id`,
		ownerID, from.Unix(), to.Unix(),
	)
}

// ExpireStale resolves every instance in one of states scheduled at or before
// cutoff as missed, returning how many rows changed.
func (s *DoseStore) ExpireStale(ctx context.Context, states []model.DoseState, cutoff, at time.Time) (int64, error) {
	if len(states) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	args := []any{at.Unix()}
	for _, st := range states {
		args = append(args, string(st))
	}
	args = append(args, cutoff.Unix())

	result, err := s.db.ExecContext(ctx,
		`UPDATE dose_instances SET state = 'missed', resolution_kind = 'missed', resolved_at = ?
		 WHERE state IN (`+placeholders+`) AND scheduled_at <= ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale doses: %w", err)
	}
	return result.RowsAffected()
}

func (s *DoseStore) list(ctx context.Context, op, query string, args ...any) ([]model.DoseInstance, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var doses []model.DoseInstance
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dose instance: %w", err)
		}
		doses = append(doses, *d)
	}
	return doses, rows.Err()
}
