package model

type IntentKind string

const (
	IntentReminder     IntentKind = "reminder"
	IntentEscalation   IntentKind = "escalation"
	IntentConfirmation IntentKind = "confirmation"
	IntentLowStock     IntentKind = "low_stock"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// IntentPayload is the channel-neutral content of a notification.
type IntentPayload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	URL   string         `json:"url,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Intent is produced by the scheduler or a handler and consumed immediately by
// the dispatcher. It is never persisted; only its delivery outcomes are.
type Intent struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	Kind           IntentKind    `json:"kind"`
	DoseInstanceID *int64        `json:"dose_instance_id,omitempty"`
	Payload        IntentPayload `json:"payload"`
}

// IntentBroadcast tags delivery rows written by an admin push broadcast.
const IntentBroadcast IntentKind = "broadcast"
