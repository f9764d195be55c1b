package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	Bell            bool
}

// Sender delivers rendered notification text.
type Sender interface {
	SendAlert(ctx context.Context, text string) error
}

type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) SendAlert(ctx context.Context, text string) error { return f(ctx, text) }

// Notification is one queued message.
type Notification struct {
	Key     string
	Kind    string
	TimerID string
	Text    string
}

type HistoryItem struct {
	At   time.Time
	Key  string
	Kind string
	Text string
}

// Bus event types emitted by the service.
const (
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDropped = "notifier.dropped"
	EventDeduped = "notifier.deduped"
)

// NotificationEvent is the payload of the notifier.* bus events.
type NotificationEvent struct {
	Key   string    `json:"key"`
	Kind  string    `json:"kind"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
