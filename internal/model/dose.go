package model

import "time"

type DoseState string

const (
	DoseStatePending   DoseState = "pending"
	DoseStateReminded  DoseState = "reminded"
	DoseStateEscalated DoseState = "escalated"
	DoseStateTaken     DoseState = "taken"
	DoseStateMissed    DoseState = "missed"
	DoseStateSkipped   DoseState = "skipped"
)

// Terminal reports whether no further transition may leave the state.
func (s DoseState) Terminal() bool {
	switch s {
	case DoseStateTaken, DoseStateMissed, DoseStateSkipped:
		return true
	}
	return false
}

type ResolutionKind string

const (
	ResolutionTaken   ResolutionKind = "taken"
	ResolutionMissed  ResolutionKind = "missed"
	ResolutionSkipped ResolutionKind = "skipped"
)

// Valid reports whether k is one of the known resolution kinds.
func (k ResolutionKind) Valid() bool {
	switch k {
	case ResolutionTaken, ResolutionMissed, ResolutionSkipped:
		return true
	}
	return false
}

// DoseInstance is one concrete expected intake. Identity is the pair
// (ScheduleID, ScheduledAt).
type DoseInstance struct {
	ID             int64           `json:"id"`
	ScheduleID     int64           `json:"schedule_id"`
	MedicationID   int64           `json:"medication_id"`
	OwnerID        string          `json:"owner_id"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	DoseAmount     float64         `json:"dose_amount"`
	State          DoseState       `json:"state"`
	RemindedAt     *time.Time      `json:"reminded_at"`
	EscalatedAt    *time.Time      `json:"escalated_at"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	ResolutionKind *ResolutionKind `json:"resolution_kind"`
}
