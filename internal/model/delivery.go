package model

import "time"

const (
	DeliveryOK      = "ok"
	DeliveryFailed  = "failed"
	DeliveryGone    = "gone"
	DeliverySkipped = "skipped"
)

type Delivery struct {
	ID             int64      `json:"id"`
	IntentID       string     `json:"intent_id"`
	OwnerID        string     `json:"owner_id"`
	Kind           IntentKind `json:"kind"`
	Channel        Channel    `json:"channel"`
	DoseInstanceID *int64     `json:"dose_instance_id"`
	Status         string     `json:"status"`
	Error          string     `json:"error"`
	CreatedAt      time.Time  `json:"created_at"`
}

type BillingSubscription struct {
	OwnerID              string    `json:"owner_id"`
	StripeSubscriptionID string    `json:"stripe_subscription_id"`
	Status               string    `json:"status"`
	UpdatedAt            time.Time `json:"updated_at"`
}
