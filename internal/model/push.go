package model

import "time"

// PushSubscription is the single browser push endpoint registered for an owner.
type PushSubscription struct {
	ID         int64     `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Endpoint   string    `json:"endpoint"`
	P256dhKey  string    `json:"p256dh_key"`
	AuthKey    string    `json:"auth_key"`
	DeviceName string    `json:"device_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CaregiverLink struct {
	ID          int64     `json:"id"`
	PatientID   string    `json:"patient_id"`
	CaregiverID string    `json:"caregiver_id"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
