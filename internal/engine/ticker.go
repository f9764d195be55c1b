package engine

import (
	"context"
	"sync"
	"time"

	rtsup "chekitimer/internal/runtime/supervisor"
	logx "chekitimer/pkg/logx"
)

const DefaultTickInterval = time.Second

// Ticker drives Registry.Tick on a fixed period. It runs until its context is
// cancelled or Stop is called, independent of how many timers exist.
type Ticker struct {
	reg *Registry

	mu       sync.Mutex
	interval time.Duration
	onTick   func(TickStats)
	reset    chan time.Duration
	sup      *rtsup.Supervisor
	done     chan struct{}
}

func NewTicker(reg *Registry, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{reg: reg, interval: interval, reset: make(chan time.Duration, 1)}
}

// OnTick registers a hook called after every tick, outside the registry lock.
func (t *Ticker) OnTick(fn func(TickStats)) {
	t.mu.Lock()
	t.onTick = fn
	t.mu.Unlock()
}

func (t *Ticker) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval changes the period; a running loop picks it up on its next wait.
func (t *Ticker) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultTickInterval
	}
	t.mu.Lock()
	if d == t.interval {
		t.mu.Unlock()
		return
	}
	t.interval = d
	t.mu.Unlock()
	select {
	case t.reset <- d:
	default:
	}
}

// Start launches the loop under a restart supervisor; a panic in an alarm or
// hook restarts the loop. Calling Start on a running ticker is a no-op.
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.sup != nil {
		t.mu.Unlock()
		return
	}
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(t.reg.log.With(logx.String("comp", "ticker"))),
		rtsup.WithCancelOnError(false),
	)
	done := make(chan struct{})
	t.sup = sup
	t.done = done
	t.mu.Unlock()

	sup.GoRestart("engine.tick", t.Run,
		rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	go func() {
		_ = sup.Wait(context.Background())
		close(done)
	}()
}

// Stop cancels a loop launched by Start and waits for it to exit.
func (t *Ticker) Stop() {
	t.mu.Lock()
	sup, done := t.sup, t.done
	t.sup, t.done = nil, nil
	t.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	<-done
}

// Supervisor returns the loop's supervisor (nil if not started).
func (t *Ticker) Supervisor() *rtsup.Supervisor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sup
}

// Done is closed when the loop launched by Start exits. Nil if not started.
func (t *Ticker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Run blocks, ticking the registry until ctx is done.
func (t *Ticker) Run(ctx context.Context) error {
	tk := time.NewTicker(t.Interval())
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-t.reset:
			tk.Reset(d)
		case <-tk.C:
			t.Step()
		}
	}
}

// Step runs a single tick synchronously.
func (t *Ticker) Step() TickStats {
	stats := t.reg.Tick()
	t.mu.Lock()
	fn := t.onTick
	t.mu.Unlock()
	if fn != nil {
		fn(stats)
	}
	return stats
}
