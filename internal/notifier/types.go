package notifier

import "time"

const (
	DefaultRatePerSec  = 20
	DefaultSendTimeout = 10 * time.Second
)

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
}

// Kind tells replies and reminder deliveries apart in events.
type Kind string

const (
	KindReply    Kind = "reply"
	KindReminder Kind = "reminder"
)

// NotificationEvent is emitted on the event bus for every send attempt.
// Keep it small; Data may be logged/serialized by subscribers.
type NotificationEvent struct {
	Kind   Kind          `json:"kind"`
	ChatID int64         `json:"chat_id"`
	At     time.Time     `json:"at"`
	Took   time.Duration `json:"took"`
	Error  string        `json:"error,omitempty"`
}
