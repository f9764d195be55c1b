package engine

import "time"

// timerState is one running countdown. Owned by Registry; never escapes the lock.
type timerState struct {
	id        string
	key       string
	spec      Spec
	startedAt time.Time

	isPaused bool
	pausedAt time.Time

	remainingSeconds int
	isOvertime       bool
	overtimeSeconds  int

	warned          bool
	overtimeAlerted bool
}

// tickResult reports which one-shot alerts a single evaluation crossed.
type tickResult struct {
	warn     bool
	overtime bool
}

func newTimerState(id, key string, spec Spec, now time.Time) *timerState {
	return &timerState{
		id:               id,
		key:              key,
		spec:             spec,
		startedAt:        now,
		remainingSeconds: spec.TotalSeconds(),
	}
}

// elapsedAt returns whole seconds since start, clamped to zero on clock skew.
// A paused timer is frozen at pausedAt.
func (s *timerState) elapsedAt(now time.Time) int {
	ref := now
	if s.isPaused {
		ref = s.pausedAt
	}
	d := ref.Sub(s.startedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// refresh recomputes remaining/overtime without touching alert flags.
func (s *timerState) refresh(now time.Time) int {
	remaining := s.spec.TotalSeconds() - s.elapsedAt(now)
	if remaining <= 0 {
		s.isOvertime = true
		s.overtimeSeconds = -remaining
		s.remainingSeconds = 0
		return remaining
	}
	s.remainingSeconds = remaining
	return remaining
}

// evaluate is one tick for this timer.
func (s *timerState) evaluate(now time.Time) tickResult {
	var res tickResult
	if s.isPaused {
		return res
	}
	remaining := s.refresh(now)
	switch {
	case remaining <= 0:
		if !s.overtimeAlerted {
			s.overtimeAlerted = true
			res.overtime = true
		}
	case remaining <= s.spec.MarginSeconds() && !s.warned:
		s.warned = true
		res.warn = true
	}
	return res
}

func (s *timerState) pause(now time.Time) bool {
	if s.isPaused {
		return false
	}
	s.isPaused = true
	s.pausedAt = now
	return true
}

func (s *timerState) resume(now time.Time) bool {
	if !s.isPaused {
		return false
	}
	if d := now.Sub(s.pausedAt); d > 0 {
		s.startedAt = s.startedAt.Add(d)
	}
	s.isPaused = false
	s.pausedAt = time.Time{}
	return true
}

// signedOvertime is +overtime when the timer ran over, or -remaining when it
// was stopped early.
func (s *timerState) signedOvertime() int {
	if s.remainingSeconds > 0 {
		return -s.remainingSeconds
	}
	return s.overtimeSeconds
}

func (s *timerState) view() View {
	return View{
		ID:               s.id,
		Key:              s.key,
		Spec:             s.spec,
		StartedAt:        s.startedAt,
		Paused:           s.isPaused,
		PausedAt:         s.pausedAt,
		RemainingSeconds: s.remainingSeconds,
		Overtime:         s.isOvertime,
		OvertimeSeconds:  s.overtimeSeconds,
		Warned:           s.warned,
		OvertimeAlerted:  s.overtimeAlerted,
	}
}

// View is a read-only copy of a running timer.
type View struct {
	ID        string
	Key       string
	Spec      Spec
	StartedAt time.Time

	Paused   bool
	PausedAt time.Time

	RemainingSeconds int
	Overtime         bool
	OvertimeSeconds  int

	Warned          bool
	OvertimeAlerted bool
}

func (v View) Group() string {
	g, _ := SplitKey(v.Key)
	return g
}

func (v View) Entity() string {
	_, e := SplitKey(v.Key)
	return e
}

// TextColor is the readable text color over the timer's member color.
func (v View) TextColor() string { return ContrastColor(v.Spec.Color()) }
