package engine

import "time"

type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// SessionRecord is the outcome of one stopped or cancelled timer.
// It is created once per transition and never mutated afterwards.
type SessionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	TimerID   string    `json:"timer_id"`
	GroupKey  string    `json:"group"`
	EntityKey string    `json:"entity"`
	ItemNames string    `json:"items"`

	TotalUnits   int `json:"total_units"`
	Distribution int `json:"distribution"`
	TotalSeconds int `json:"total_seconds"`

	// OvertimeSeconds is positive when the timer ran over and negative when it
	// was stopped early.
	OvertimeSeconds int    `json:"overtime_seconds"`
	Status          Status `json:"status"`
}

// Ledger receives every record produced by Stop/Cancel.
// Append must not block; the registry hands off and forgets.
type Ledger interface {
	Append(rec SessionRecord)
}

// LedgerFunc adapts a function to Ledger.
type LedgerFunc func(rec SessionRecord)

func (f LedgerFunc) Append(rec SessionRecord) { f(rec) }

// Alarm is the one-shot audible alert fired when a timer first goes overtime.
type Alarm interface {
	Ring(key string)
}

type AlarmFunc func(key string)

func (f AlarmFunc) Ring(key string) { f(key) }

type nopLedger struct{}

func (nopLedger) Append(SessionRecord) {}

type nopAlarm struct{}

func (nopAlarm) Ring(string) {}
