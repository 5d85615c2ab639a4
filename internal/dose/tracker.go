// Package dose owns the lifecycle of dose instances. All state changes go
// through Tracker so that racing writers end in a no-op or an explicit
// conflict, never a silent overwrite.
package dose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/schedule"
)

var (
	ErrNotFound              = errors.New("dose: instance not found")
	ErrInvalidTransition     = errors.New("dose: invalid transition")
	ErrConflictingResolution = errors.New("dose: conflicting resolution")
)

// Repository is the persistence the tracker drives. Mark* methods must only
// apply when the row is still in the expected source state and report
// whether they did.
type Repository interface {
	Ensure(ctx context.Context, scheduleID, medicationID int64, ownerID string, scheduledAt time.Time, doseAmount float64) (*model.DoseInstance, error)
	GetByID(ctx context.Context, id int64) (*model.DoseInstance, error)
	MarkReminded(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkEscalated(ctx context.Context, id int64, at time.Time) (bool, error)
	MarkResolved(ctx context.Context, id int64, kind model.ResolutionKind, at time.Time) (bool, error)
	ListPending(ctx context.Context, after, upTo time.Time) ([]model.DoseInstance, error)
	ListRemindedBefore(ctx context.Context, cutoff time.Time) ([]model.DoseInstance, error)
	ListOpenBySchedule(ctx context.Context, scheduleID int64) ([]model.DoseInstance, error)
	ListByOwnerBetween(ctx context.Context, ownerID string, from, to time.Time) ([]model.DoseInstance, error)
	ExpireStale(ctx context.Context, states []model.DoseState, cutoff, at time.Time) (int64, error)
}

// Windows are the timing knobs of the state machine.
type Windows struct {
	// GraceWindow bounds how late a reminder may still be sent.
	GraceWindow time.Duration
	// EscalationDelay is how long after a reminder a caregiver is alerted.
	EscalationDelay time.Duration
	// MissedAfter is how long after its scheduled time a reminded dose stays open.
	MissedAfter time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		GraceWindow:     10 * time.Minute,
		EscalationDelay: 30 * time.Minute,
		MissedAfter:     4 * time.Hour,
	}
}

type Tracker struct {
	repo    Repository
	windows Windows
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source used to stamp transitions.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(repo Repository, windows Windows, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		repo:    repo,
		windows: windows,
		logger:  logger.With("component", "dose"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Windows() Windows {
	return t.windows
}

// EnsureInstance returns the dose for (schedule, scheduledAt), creating it if
// needed. Repeated calls return the same instance.
func (t *Tracker) EnsureInstance(ctx context.Context, s model.MedicationSchedule, scheduledAt time.Time) (*model.DoseInstance, error) {
	d, err := t.repo.Ensure(ctx, s.ID, s.MedicationID, s.OwnerID, scheduledAt.UTC(), s.DoseAmount)
	if err != nil {
		return nil, fmt.Errorf("ensure instance: %w", err)
	}
	return d, nil
}

func (t *Tracker) Get(ctx context.Context, id int64) (*model.DoseInstance, error) {
	d, err := t.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, ErrNotFound
	}
	return d, nil
}

// RecordReminderSent moves pending to reminded. An instance already reminded
// or beyond is left alone without error.
func (t *Tracker) RecordReminderSent(ctx context.Context, id int64) error {
	ok, err := t.repo.MarkReminded(ctx, id, t.now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = t.Get(ctx, id)
	return err
}

// RecordEscalated moves reminded to escalated. Any other source state is
// rejected with ErrInvalidTransition.
func (t *Tracker) RecordEscalated(ctx context.Context, id int64) error {
	ok, err := t.repo.MarkEscalated(ctx, id, t.now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	d, err := t.Get(ctx, id)
	if err != nil {
		return err
	}
	t.logger.Error("rejected escalation", "dose_id", id, "state", d.State)
	return fmt.Errorf("escalate dose %d from %s: %w", id, d.State, ErrInvalidTransition)
}

// Resolve moves a non-terminal instance to kind. Repeating the same kind is a
// no-op; a different kind on a resolved instance fails with
// ErrConflictingResolution. The bool reports whether this call made the
// transition, so callers can attach side effects exactly once.
func (t *Tracker) Resolve(ctx context.Context, id int64, kind model.ResolutionKind) (*model.DoseInstance, bool, error) {
	if !kind.Valid() {
		return nil, false, fmt.Errorf("resolve dose %d as %q: %w", id, kind, ErrInvalidTransition)
	}

	ok, err := t.repo.MarkResolved(ctx, id, kind, t.now())
	if err != nil {
		return nil, false, err
	}
	d, err := t.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return d, true, nil
	}

	if d.ResolutionKind != nil && *d.ResolutionKind == kind {
		return d, false, nil
	}
	t.logger.Warn("conflicting resolution", "dose_id", id, "state", d.State, "requested", kind)
	return d, false, fmt.Errorf("resolve dose %d as %s, already %s: %w", id, kind, d.State, ErrConflictingResolution)
}

// DueForReminder returns pending instances scheduled in (now-grace, now].
func (t *Tracker) DueForReminder(ctx context.Context, now time.Time) ([]model.DoseInstance, error) {
	return t.repo.ListPending(ctx, now.Add(-t.windows.GraceWindow), now)
}

// DueForEscalation returns reminded instances whose reminder is at least
// EscalationDelay old.
func (t *Tracker) DueForEscalation(ctx context.Context, now time.Time) ([]model.DoseInstance, error) {
	return t.repo.ListRemindedBefore(ctx, now.Add(-t.windows.EscalationDelay))
}

// ExpireUnreminded resolves pending instances older than the grace window as
// missed without sending anything.
func (t *Tracker) ExpireUnreminded(ctx context.Context, now time.Time) (int64, error) {
	return t.repo.ExpireStale(ctx,
		[]model.DoseState{model.DoseStatePending},
		now.Add(-t.windows.GraceWindow), t.now())
}

// ExpireUnresolved resolves reminded and escalated instances as missed once
// MissedAfter has passed since their scheduled time.
func (t *Tracker) ExpireUnresolved(ctx context.Context, now time.Time) (int64, error) {
	return t.repo.ExpireStale(ctx,
		[]model.DoseState{model.DoseStateReminded, model.DoseStateEscalated},
		now.Add(-t.windows.MissedAfter), t.now())
}

// SkipOutdated resolves as skipped the open instances that s no longer
// accounts for after an edit or deactivation. Once s is inactive that is
// every open instance; otherwise only pending instances its current rule does
// not produce. Already reminded instances of an active schedule stay open.
func (t *Tracker) SkipOutdated(ctx context.Context, s model.MedicationSchedule) (int, error) {
	open, err := t.repo.ListOpenBySchedule(ctx, s.ID)
	if err != nil {
		return 0, fmt.Errorf("list open doses: %w", err)
	}
	current := map[int64]model.MedicationSchedule{}
	if s.Active {
		current[s.ID] = s
	}
	return t.skipStale(ctx, open, current), nil
}

// SkipOrphaned resolves as skipped the pending instances scheduled up to now
// whose schedule is missing from active or no longer produces them.
func (t *Tracker) SkipOrphaned(ctx context.Context, now time.Time, active map[int64]model.MedicationSchedule) (int, error) {
	pending, err := t.repo.ListPending(ctx, time.Time{}, now)
	if err != nil {
		return 0, fmt.Errorf("list pending doses: %w", err)
	}
	return t.skipStale(ctx, pending, active), nil
}

func (t *Tracker) skipStale(ctx context.Context, doses []model.DoseInstance, current map[int64]model.MedicationSchedule) int {
	skipped := 0
	for _, d := range doses {
		if s, ok := current[d.ScheduleID]; ok {
			if d.State != model.DoseStatePending {
				continue
			}
			keep, err := schedule.Produces(s, d.ScheduledAt)
			if err != nil {
				t.logger.Error("check dose against schedule", "dose_id", d.ID, "schedule_id", d.ScheduleID, "error", err)
				continue
			}
			if keep {
				continue
			}
		}

		_, changed, err := t.Resolve(ctx, d.ID, model.ResolutionSkipped)
		if err != nil {
			// resolved concurrently; the other writer wins
			if !errors.Is(err, ErrConflictingResolution) {
				t.logger.Error("skip outdated dose", "dose_id", d.ID, "error", err)
			}
			continue
		}
		if changed {
			skipped++
			t.logger.Info("skipped outdated dose", "dose_id", d.ID, "schedule_id", d.ScheduleID, "scheduled_at", d.ScheduledAt)
		}
	}
	return skipped
}

// ListForOwner returns the owner's instances with from <= scheduledAt < to.
func (t *Tracker) ListForOwner(ctx context.Context, ownerID string, from, to time.Time) ([]model.DoseInstance, error) {
	return t.repo.ListByOwnerBetween(ctx, ownerID, from, to)
}
