// Package reminder drives the dose lifecycle on a fixed tick: it materializes
// due doses, sends reminders, escalates to caregivers and expires stale doses.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/dukerupert/medreminder/internal/dispatch"
	"github.com/dukerupert/medreminder/internal/dose"
	"github.com/dukerupert/medreminder/internal/model"
	"github.com/dukerupert/medreminder/internal/schedule"
)

// ErrTickInProgress is returned by RunOnce when another tick is running.
var ErrTickInProgress = errors.New("reminder: tick already in progress")

const lastTickKey = "reminder.last_tick"

type ScheduleSource interface {
	ListActive(ctx context.Context) ([]model.MedicationSchedule, error)
}

type MedicationSource interface {
	GetByID(ctx context.Context, id int64) (*model.Medication, error)
}

type UserSource interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type CaregiverSource interface {
	ListActiveCaregivers(ctx context.Context, patientID string) ([]model.User, error)
}

type StateStore interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, intent model.Intent) dispatch.Outcome
}

type Config struct {
	Interval time.Duration
	// CatchUpLimit caps how far back the first window after a restart reaches.
	CatchUpLimit time.Duration
}

// Deps groups the collaborators a Scheduler reads from and writes to.
type Deps struct {
	Tracker     *dose.Tracker
	Schedules   ScheduleSource
	Medications MedicationSource
	Users       UserSource
	Caregivers  CaregiverSource
	State       StateStore
	Dispatcher  Dispatcher
}

// Report summarizes one tick.
type Report struct {
	WindowStart       time.Time `json:"windowStart"`
	WindowEnd         time.Time `json:"windowEnd"`
	Materialized      int       `json:"materialized"`
	Skipped           int       `json:"skipped"`
	Reminded          int       `json:"reminded"`
	Escalated         int       `json:"escalated"`
	EscalationIntents int       `json:"escalationIntents"`
	ExpiredUnreminded int64     `json:"expiredUnreminded"`
	ExpiredUnresolved int64     `json:"expiredUnresolved"`
	ScheduleErrors    int       `json:"scheduleErrors"`
}

// Scheduler periodically runs a tick. Ticks never overlap.
type Scheduler struct {
	mu      sync.RWMutex
	running sync.Mutex
	deps    Deps
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source that defines "now" for each tick.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func NewScheduler(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.CatchUpLimit <= 0 {
		cfg.CatchUpLimit = 24 * time.Hour
	}
	s := &Scheduler{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "reminder"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one catch-up tick immediately, then one per interval until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.tick(ctx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("tick", "error", err)
	}
	s.logger.Debug("tick complete",
		"materialized", report.Materialized,
		"skipped", report.Skipped,
		"reminded", report.Reminded,
		"escalated", report.Escalated,
		"expired_unreminded", report.ExpiredUnreminded,
		"expired_unresolved", report.ExpiredUnresolved,
		"schedule_errors", report.ScheduleErrors,
	)
}

// RunOnce executes a single tick. Per-schedule and per-dose failures are
// logged and counted, never propagated; the returned error only reports
// steps that could not run at all.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		return Report{}, ErrTickInProgress
	}
	defer s.running.Unlock()

	now := s.now().UTC()
	var report Report
	var errs []error

	from, err := s.windowStart(ctx, now)
	if err != nil {
		return report, err
	}
	report.WindowStart, report.WindowEnd = from, now

	schedules, err := s.deps.Schedules.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active schedules: %w", err)
	}
	active := make(map[int64]model.MedicationSchedule, len(schedules))
	for _, sch := range schedules {
		active[sch.ID] = sch
		n, err := s.materialize(ctx, sch, from, now)
		report.Materialized += n
		if err != nil {
			report.ScheduleErrors++
			s.logger.Error("materialize schedule", "schedule_id", sch.ID, "owner_id", sch.OwnerID, "error", err)
		}
	}

	// pending doses of edited or deactivated schedules
	if n, err := s.deps.Tracker.SkipOrphaned(ctx, now, active); err != nil {
		errs = append(errs, fmt.Errorf("skip orphaned: %w", err))
	} else {
		report.Skipped = n
	}

	meds := &medicationCache{src: s.deps.Medications, byID: map[int64]*model.Medication{}}

	if n, err := s.sendReminders(ctx, now, active, meds); err != nil {
		errs = append(errs, err)
	} else {
		report.Reminded = n
	}

	if escalated, intents, err := s.escalate(ctx, now, active, meds); err != nil {
		errs = append(errs, err)
	} else {
		report.Escalated, report.EscalationIntents = escalated, intents
	}

	if n, err := s.deps.Tracker.ExpireUnreminded(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("expire unreminded: %w", err))
	} else {
		report.ExpiredUnreminded = n
	}

	if n, err := s.deps.Tracker.ExpireUnresolved(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("expire unresolved: %w", err))
	} else {
		report.ExpiredUnresolved = n
	}

	if err := s.deps.State.SetTime(ctx, lastTickKey, now); err != nil {
		errs = append(errs, fmt.Errorf("save last tick: %w", err))
	}
	return report, errors.Join(errs...)
}

// windowStart returns where this tick's materialization window begins: the
// previous tick, at most CatchUpLimit ago.
func (s *Scheduler) windowStart(ctx context.Context, now time.Time) (time.Time, error) {
	last, err := s.deps.State.GetTime(ctx, lastTickKey)
	if err != nil {
		return time.Time{}, fmt.Errorf("load last tick: %w", err)
	}
	if last.IsZero() {
		last = now.Add(-s.cfg.Interval)
	}
	if floor := now.Add(-s.cfg.CatchUpLimit); last.Before(floor) {
		s.logger.Warn("catch-up window capped", "last_tick", last, "from", floor)
		last = floor
	}
	if last.After(now) {
		last = now
	}
	return last, nil
}

func (s *Scheduler) materialize(ctx context.Context, sch model.MedicationSchedule, from, to time.Time) (int, error) {
	instants, err := schedule.ResolveDueInstants(sch, from, to)
	if err != nil {
		return 0, err
	}
	for i, at := range instants {
		if _, err := s.deps.Tracker.EnsureInstance(ctx, sch, at); err != nil {
			return i, err
		}
	}
	return len(instants), nil
}

func (s *Scheduler) sendReminders(ctx context.Context, now time.Time, active map[int64]model.MedicationSchedule, meds *medicationCache) (int, error) {
	due, err := s.deps.Tracker.DueForReminder(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("due for reminder: %w", err)
	}

	sent := 0
	for _, d := range due {
		sch, ok := active[d.ScheduleID]
		if !ok {
			s.logger.Debug("skip reminder for inactive schedule", "dose_id", d.ID, "schedule_id", d.ScheduleID)
			continue
		}
		med := meds.get(ctx, d.MedicationID)

		out := s.deps.Dispatcher.Dispatch(ctx, reminderIntent(d, sch, med))
		if err := out.Err(); err != nil {
			s.logger.Warn("reminder partially delivered", "dose_id", d.ID, "email_ok", out.EmailOK, "push_ok", out.PushOK)
		}
		if err := s.deps.Tracker.RecordReminderSent(ctx, d.ID); err != nil {
			s.logger.Error("record reminder sent", "dose_id", d.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

// escalate claims each overdue reminded dose before alerting caregivers, so a
// dose taken in the meantime produces no alert.
func (s *Scheduler) escalate(ctx context.Context, now time.Time, active map[int64]model.MedicationSchedule, meds *medicationCache) (int, int, error) {
	due, err := s.deps.Tracker.DueForEscalation(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("due for escalation: %w", err)
	}

	escalated, intents := 0, 0
	for _, d := range due {
		if _, ok := active[d.ScheduleID]; !ok {
			if _, _, err := s.deps.Tracker.Resolve(ctx, d.ID, model.ResolutionSkipped); err != nil && !errors.Is(err, dose.ErrConflictingResolution) {
				s.logger.Error("skip dose of inactive schedule", "dose_id", d.ID, "error", err)
			}
			continue
		}

		if err := s.deps.Tracker.RecordEscalated(ctx, d.ID); err != nil {
			if !errors.Is(err, dose.ErrInvalidTransition) {
				s.logger.Error("record escalated", "dose_id", d.ID, "error", err)
			}
			continue
		}
		escalated++

		caregivers, err := s.deps.Caregivers.ListActiveCaregivers(ctx, d.OwnerID)
		if err != nil {
			s.logger.Error("list caregivers", "dose_id", d.ID, "owner_id", d.OwnerID, "error", err)
			continue
		}

		patient := d.OwnerID
		if u, err := s.deps.Users.GetByID(ctx, d.OwnerID); err == nil && u != nil && u.Name != "" {
			patient = u.Name
		}
		med := meds.get(ctx, d.MedicationID)

		for _, cg := range caregivers {
			s.deps.Dispatcher.Dispatch(ctx, escalationIntent(d, cg.ID, patient, med))
			intents++
		}
	}
	return escalated, intents, nil
}

// medicationCache avoids refetching the same medication within one tick.
type medicationCache struct {
	src  MedicationSource
	byID map[int64]*model.Medication
}

func (c *medicationCache) get(ctx context.Context, id int64) *model.Medication {
	if m, ok := c.byID[id]; ok {
		return m
	}
	m, err := c.src.GetByID(ctx, id)
	if err != nil || m == nil {
		m = &model.Medication{ID: id, Name: "your medication"}
	}
	c.byID[id] = m
	return m
}

func reminderIntent(d model.DoseInstance, sch model.MedicationSchedule, med *model.Medication) model.Intent {
	id := d.ID
	local := d.ScheduledAt
	if loc, err := schedule.Location(sch); err == nil {
		local = local.In(loc)
	}
	return model.Intent{
		OwnerID:        d.OwnerID,
		Kind:           model.IntentReminder,
		DoseInstanceID: &id,
		Payload: model.IntentPayload{
			Title: fmt.Sprintf("Time for %s", med.Name),
			Body:  fmt.Sprintf("Take %s %s (scheduled %s)", formatAmount(d.DoseAmount), med.DoseUnit, local.Format("15:04")),
			URL:   "/doses",
			Tag:   fmt.Sprintf("dose-%d", d.ID),
			Data:  map[string]any{"doseInstanceId": d.ID, "medicationId": d.MedicationID},
		},
	}
}

func escalationIntent(d model.DoseInstance, caregiverID, patient string, med *model.Medication) model.Intent {
	id := d.ID
	return model.Intent{
		OwnerID:        caregiverID,
		Kind:           model.IntentEscalation,
		DoseInstanceID: &id,
		Payload: model.IntentPayload{
			Title: fmt.Sprintf("%s has not confirmed a dose", patient),
			Body:  fmt.Sprintf("%s due at %s UTC is still unconfirmed.", med.Name, d.ScheduledAt.Format("15:04")),
			URL:   "/caregiver",
			Tag:   fmt.Sprintf("escalation-%d", d.ID),
			Data:  map[string]any{"doseInstanceId": d.ID, "patientId": d.OwnerID},
		},
	}
}

func formatAmount(a float64) string {
	return strconv.FormatFloat(a, 'f', -1, 64)
}
