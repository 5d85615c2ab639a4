package model

import "time"

// Medication is a drug an owner takes. DoseUnit is the unit of both Stock and
// every schedule's DoseAmount: a "mg" medication keeps its stock in mg, a
// "tablet" one in tablets. Nil Stock means stock is not tracked.
type Medication struct {
	ID               int64     `json:"id"`
	OwnerID          string    `json:"owner_id"`
	Name             string    `json:"name"`
	DoseUnit         string    `json:"dose_unit"`
	Stock            *int      `json:"stock"`
	LowStockNotified bool      `json:"low_stock_notified"`
	CreatedAt        time.Time `json:"created_at"`
}

// MedicationSchedule is a recurrence rule attached to a medication. Schedules
// are deactivated rather than deleted so dose history keeps its parent.
type MedicationSchedule struct {
	ID           int64      `json:"id"`
	MedicationID int64      `json:"medication_id"`
	OwnerID      string     `json:"owner_id"`
	DoseAmount   float64    `json:"dose_amount"`
	Recurrence   string     `json:"recurrence"`
	Timezone     string     `json:"timezone"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DateLayout is the storage and wire format of schedule start/end dates.
const DateLayout = "2006-01-02"
