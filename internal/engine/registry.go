package engine

import (
	"fmt"
	"sync"
	"time"

	"chekitimer/internal/eventbus"
	logx "chekitimer/pkg/logx"

	"github.com/google/uuid"
)

// Registry owns every active timer, keyed by session key, plus the per-key
// queues and the alert slots. All mutation goes through its methods.
//
// One mutex serializes ticks and user actions. Ledger, alarm and event bus
// calls run after the lock is released.
type Registry struct {
	mu sync.Mutex

	clock  Clock
	ledger Ledger
	alarm  Alarm
	events eventbus.Bus
	log    logx.Logger
	newID  func() string

	alerts *AlertBus
	queue  *QueueStore

	byID  map[string]*timerState
	byKey map[string]*timerState
}

type Option func(*Registry)

func WithClock(c Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithLedger(l Ledger) Option {
	return func(r *Registry) {
		if l != nil {
			r.ledger = l
		}
	}
}

func WithAlarm(a Alarm) Option {
	return func(r *Registry) {
		if a != nil {
			r.alarm = a
		}
	}
}

func WithEventBus(b eventbus.Bus) Option {
	return func(r *Registry) {
		if b != nil {
			r.events = b
		}
	}
}

func WithAlertBus(a *AlertBus) Option {
	return func(r *Registry) {
		if a != nil {
			r.alerts = a
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// WithIDFunc overrides timer id generation. Ids must never repeat.
func WithIDFunc(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:  SystemClock,
		ledger: nopLedger{},
		alarm:  nopAlarm{},
		events: eventbus.Nop(),
		log:    logx.Nop(),
		newID:  uuid.NewString,
		alerts: NewAlertBus(),
		queue:  newQueueStore(),
		byID:   map[string]*timerState{},
		byKey:  map[string]*timerState{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Alerts is the registry's alert bus. Consumers read it; the registry writes.
func (r *Registry) Alerts() *AlertBus { return r.alerts }

// Queue exposes the per-key queues read-only.
func (r *Registry) Queue() *QueueStore { return r.queue }

// outbox collects side effects produced under the lock.
type outbox struct {
	events  []eventbus.Event
	records []SessionRecord
	rings   []string
}

func (o *outbox) event(typ, key string, at time.Time, data any) {
	o.events = append(o.events, eventbus.Event{Type: typ, Key: key, Time: at, Data: data})
}

func (r *Registry) flush(o outbox) {
	for _, rec := range o.records {
		r.ledger.Append(rec)
	}
	for _, key := range o.rings {
		r.alarm.Ring(key)
	}
	for _, ev := range o.events {
		r.events.Publish(ev)
	}
}

// Start activates a timer for key, or appends spec to the key's queue if a
// timer is already running there. The id is empty when queued.
func (r *Registry) Start(key string, spec Spec) (id string, queued bool) {
	var out outbox
	now := r.clock.Now()

	r.mu.Lock()
	if _, busy := r.byKey[key]; busy {
		n := r.queue.push(key, spec)
		out.event(eventbus.TimerQueued, key, now, QueuedEvent{Key: key, Spec: spec, Position: n})
		r.mu.Unlock()
		r.log.Debug("timer queued", logx.String("key", key), logx.Int("depth", n))
		r.flush(out)
		return "", true
	}
	st := r.activateLocked(key, spec, now, &out)
	r.mu.Unlock()

	r.log.Debug("timer started", logx.String("key", key), logx.String("id", st.id), logx.Int("seconds", spec.TotalSeconds()))
	r.flush(out)
	return st.id, false
}

// activateLocked installs a fresh timer on a free key.
func (r *Registry) activateLocked(key string, spec Spec, now time.Time, out *outbox) *timerState {
	if cur, busy := r.byKey[key]; busy {
		panic(fmt.Sprintf("engine: key %q already has active timer %s", key, cur.id))
	}
	st := newTimerState(r.newID(), key, spec, now)
	if _, dup := r.byID[st.id]; dup {
		panic(fmt.Sprintf("engine: duplicate timer id %s", st.id))
	}
	r.byID[st.id] = st
	r.byKey[key] = st
	out.event(eventbus.TimerStarted, key, now, st.view())
	return st
}

// Pause freezes the countdown. Unknown ids and paused timers are ignored.
func (r *Registry) Pause(id string) {
	var out outbox
	now := r.clock.Now()

	r.mu.Lock()
	st, ok := r.byID[id]
	if !ok || !st.pause(now) {
		r.mu.Unlock()
		return
	}
	out.event(eventbus.TimerPaused, st.key, now, st.view())
	r.mu.Unlock()
	r.flush(out)
}

// Resume shifts startedAt by the paused duration so the countdown continues
// where it stopped. Timers that are not paused are ignored.
func (r *Registry) Resume(id string) {
	var out outbox
	now := r.clock.Now()

	r.mu.Lock()
	st, ok := r.byID[id]
	if !ok || !st.resume(now) {
		r.mu.Unlock()
		return
	}
	out.event(eventbus.TimerResumed, st.key, now, st.view())
	r.mu.Unlock()
	r.flush(out)
}

// Stop completes the timer and, if the key has queued specs, starts the next
// one immediately. ok is false for an unknown id.
func (r *Registry) Stop(id string) (rec SessionRecord, ok bool) {
	var out outbox
	now := r.clock.Now()

	r.mu.Lock()
	st, found := r.byID[id]
	if !found {
		r.mu.Unlock()
		return SessionRecord{}, false
	}
	st.refresh(now)
	rec = r.recordFor(st, now, StatusCompleted)
	rec.OvertimeSeconds = st.signedOvertime()
	r.removeLocked(st)
	out.records = append(out.records, rec)
	out.event(eventbus.TimerStopped, st.key, now, rec)

	var nextID string
	if next, queued := r.queue.pop(st.key); queued {
		nextID = r.activateLocked(st.key, next, now, &out).id
	}
	r.mu.Unlock()

	r.log.Debug("timer stopped",
		logx.String("key", st.key),
		logx.String("id", id),
		logx.Int("overtime", rec.OvertimeSeconds),
		logx.String("next", nextID),
	)
	r.flush(out)
	return rec, true
}

// Cancel ends the timer without distributing anything. The key's queue is left
// in place; Advance restarts it.
func (r *Registry) Cancel(id string) (rec SessionRecord, ok bool) {
	var out outbox
	now := r.clock.Now()

	r.mu.Lock()
	st, found := r.byID[id]
	if !found {
		r.mu.Unlock()
		return SessionRecord{}, false
	}
	rec = r.recordFor(st, now, StatusCancelled)
	rec.TotalUnits = 0
	rec.Distribution = 0
	rec.OvertimeSeconds = 0
	r.removeLocked(st)
	out.records = append(out.records, rec)
	out.event(eventbus.TimerCancelled, st.key, now, rec)
	r.mu.Unlock()

	r.log.Debug("timer cancelled", logx.String("key", st.key), logx.String("id", id), logx.Int("queued", r.queue.Len(st.key)))
	r.flush(out)
	return rec, true
}

// Advance starts the front queued spec for key if the key is free.
func (r *Registry) Advance(key string) (id string, ok bool) {
	var out outbox
	now := r.clock.Now()

	r.mu.Lock()
	if _, busy := r.byKey[key]; busy {
		r.mu.Unlock()
		return "", false
	}
	next, queued := r.queue.pop(key)
	if !queued {
		r.mu.Unlock()
		return "", false
	}
	id = r.activateLocked(key, next, now, &out).id
	r.mu.Unlock()

	r.flush(out)
	return id, true
}

func (r *Registry) removeLocked(st *timerState) {
	delete(r.byID, st.id)
	if cur := r.byKey[st.key]; cur == st {
		delete(r.byKey, st.key)
	}
	r.alerts.Clear(st.key)
}

func (r *Registry) recordFor(st *timerState, now time.Time, status Status) SessionRecord {
	group, entity := SplitKey(st.key)
	return SessionRecord{
		Timestamp:    now,
		TimerID:      st.id,
		GroupKey:     group,
		EntityKey:    entity,
		ItemNames:    st.spec.ItemNames(),
		TotalUnits:   st.spec.TotalUnits(),
		Distribution: st.spec.Distribution(),
		TotalSeconds: st.spec.TotalSeconds(),
		Status:       status,
	}
}

// TickStats summarizes one evaluation pass.
type TickStats struct {
	At       time.Time
	Running  int
	Paused   int
	Overtime int
	Warnings int
	Overruns int
}

// Tick re-evaluates every running timer once and publishes the alerts it
// crosses. A registry with no timers does nothing.
func (r *Registry) Tick() TickStats {
	var out outbox
	now := r.clock.Now()
	stats := TickStats{At: now}

	r.mu.Lock()
	for _, st := range r.byID {
		if st.isPaused {
			stats.Paused++
			continue
		}
		stats.Running++
		res := st.evaluate(now)
		if st.isOvertime {
			stats.Overtime++
		}
		switch {
		case res.overtime:
			ev := r.alertFor(st, AlertOvertime, now)
			r.alerts.Publish(ev)
			out.rings = append(out.rings, st.key)
			out.event(eventbus.AlertOvertime, st.key, now, ev)
			stats.Overruns++
		case res.warn:
			ev := r.alertFor(st, AlertWarning, now)
			r.alerts.Publish(ev)
			out.event(eventbus.AlertWarning, st.key, now, ev)
			stats.Warnings++
		}
	}
	r.mu.Unlock()

	r.flush(out)
	return stats
}

func (r *Registry) alertFor(st *timerState, kind AlertKind, now time.Time) AlertEvent {
	ev := AlertEvent{
		Key:     st.key,
		TimerID: st.id,
		Kind:    kind,
		Color:   st.spec.Color(),
		At:      now,
	}
	switch kind {
	case AlertOvertime:
		ev.Message = overtimeMessage
		ev.OvertimeSeconds = st.overtimeSeconds
	default:
		ev.Message = warningMessage
	}
	return ev
}

// Snapshot returns copies of all active timers, most urgent first.
func (r *Registry) Snapshot() []View {
	r.mu.Lock()
	views := make([]View, 0, len(r.byID))
	for _, st := range r.byID {
		views = append(views, st.view())
	}
	r.mu.Unlock()
	SortViews(views)
	return views
}

func (r *Registry) Get(id string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byID[id]
	if !ok {
		return View{}, false
	}
	return st.view(), true
}

// Lookup returns the active timer for key.
func (r *Registry) Lookup(key string) (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.byKey[key]
	if !ok {
		return View{}, false
	}
	return st.view(), true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// QueuedEvent is the payload of eventbus.TimerQueued.
type QueuedEvent struct {
	Key      string
	Spec     Spec
	Position int
}
