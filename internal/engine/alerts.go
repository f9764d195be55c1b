package engine

import (
	"iter"
	"sync"
	"time"
)

type AlertKind string

const (
	AlertWarning  AlertKind = "warning"
	AlertOvertime AlertKind = "overtime"
)

const (
	warningMessage  = "ending soon"
	overtimeMessage = "time is up"
)

type AlertEvent struct {
	Key             string
	TimerID         string
	Kind            AlertKind
	Message         string
	OvertimeSeconds int
	Color           string
	At              time.Time
}

// AlertBus keeps the latest alert per key. A new event replaces the old one.
type AlertBus struct {
	mu     sync.RWMutex
	events map[string]AlertEvent
}

func NewAlertBus() *AlertBus {
	return &AlertBus{events: map[string]AlertEvent{}}
}

func (b *AlertBus) Publish(ev AlertEvent) {
	b.mu.Lock()
	b.events[ev.Key] = ev
	b.mu.Unlock()
}

// Clear drops the alert for key. Returns whether one was held.
func (b *AlertBus) Clear(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.events[key]
	delete(b.events, key)
	return ok
}

func (b *AlertBus) Get(key string) (AlertEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.events[key]
	return ev, ok
}

func (b *AlertBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}

// List yields the alerts held at the time iteration starts. Each call starts a
// fresh pass; order is unspecified.
func (b *AlertBus) List() iter.Seq[AlertEvent] {
	return func(yield func(AlertEvent) bool) {
		b.mu.RLock()
		snap := make([]AlertEvent, 0, len(b.events))
		for _, ev := range b.events {
			snap = append(snap, ev)
		}
		b.mu.RUnlock()
		for _, ev := range snap {
			if !yield(ev) {
				return
			}
		}
	}
}
