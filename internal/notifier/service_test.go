package notifier

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chekitimer/internal/engine"
	"chekitimer/internal/eventbus"
	logx "chekitimer/pkg/logx"
)

type chanSender struct {
	ch    chan string
	fails atomic.Int32
}

func newChanSender() *chanSender { return &chanSender{ch: make(chan string, 16)} }

func (c *chanSender) SendAlert(_ context.Context, text string) error {
	if c.fails.Add(-1) >= 0 {
		return errors.New("flaky")
	}
	c.ch <- text
	return nil
}

func (c *chanSender) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return ""
	}
}

func (c *chanSender) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-c.ch:
		t.Fatalf("unexpected delivery %q", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func enabled() Config {
	return Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute, RetryBase: time.Millisecond}
}

func alertEvent(kind engine.AlertKind, id string) eventbus.Event {
	typ := eventbus.AlertWarning
	msg := "ending soon"
	if kind == engine.AlertOvertime {
		typ, msg = eventbus.AlertOvertime, "time is up"
	}
	return eventbus.Event{Type: typ, Key: "G1__Alice", Data: engine.AlertEvent{Key: "G1__Alice", TimerID: id, Kind: kind, Message: msg}}
}

func TestAlertsFromBusAreDelivered(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	snd := newChanSender()
	s := New(enabled(), snd, bus, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	bus.Publish(eventbus.Event{Type: eventbus.TimerStarted, Data: engine.View{}})
	bus.Publish(alertEvent(engine.AlertWarning, "t1"))
	if got := snd.next(t); got != "⚠️ G1 / Alice: ending soon" {
		t.Fatalf("warning text = %q", got)
	}
	bus.Publish(alertEvent(engine.AlertOvertime, "t1"))
	if got := snd.next(t); !strings.Contains(got, "time is up") {
		t.Fatalf("overtime text = %q", got)
	}

	// Same (key, kind, timer) again is suppressed; a new timer is not.
	bus.Publish(alertEvent(engine.AlertOvertime, "t1"))
	snd.none(t)
	bus.Publish(alertEvent(engine.AlertOvertime, "t2"))
	snd.next(t)

	deadline := time.Now().Add(5 * time.Second)
	for len(s.History()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h := s.History(); len(h) != 3 || h[0].Kind != "warning" {
		t.Fatalf("history = %+v", h)
	}
}

func TestNotifyRetries(t *testing.T) {
	t.Parallel()
	snd := newChanSender()
	snd.fails.Store(2)
	cfg := enabled()
	cfg.RetryMax = 2
	s := New(cfg, snd, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{Key: "k", Kind: "warning", Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if got := snd.next(t); got != "hi" {
		t.Fatalf("got %q", got)
	}
}

func TestNotifyStates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, newChanSender(), nil, logx.Nop())
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v", err)
	}
	s = New(enabled(), newChanSender(), nil, logx.Nop())
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("stopped err = %v", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	var (
		mu  sync.Mutex
		got []string
	)
	snd := SenderFunc(func(_ context.Context, text string) error {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
		return nil
	})
	s := New(enabled(), snd, nil, logx.Nop())
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		_ = s.Notify(context.Background(), Notification{Key: "k", Kind: "warning", TimerID: string(rune('a' + i)), Text: "x"})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("delivered %d, want 5", len(got))
	}
}

func TestDedupWindowExpires(t *testing.T) {
	t.Parallel()
	s := New(enabled(), nil, nil, logx.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if !s.dedupAllow("a", time.Minute, 10) || s.dedupAllow("a", time.Minute, 10) {
		t.Fatal("second call inside window should be suppressed")
	}
	now = now.Add(2 * time.Minute)
	if !s.dedupAllow("a", time.Minute, 10) {
		t.Fatal("window should have expired")
	}
	for _, k := range []string{"b", "c", "d"} {
		s.dedupAllow(k, time.Minute, 2)
	}
	if len(s.dedup) != 2 {
		t.Fatalf("dedup cap not enforced: %d", len(s.dedup))
	}
}

func TestRingIsThrottledPerKey(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cfg := enabled()
	cfg.Bell = true
	s := New(cfg, nil, nil, logx.Nop())
	s.SetBellWriter(&buf)
	s.Ring("a")
	s.Ring("a")
	if buf.String() != "\a" {
		t.Fatalf("repeat ring on one key = %q", buf.String())
	}
	// Timers going overtime in the same tick each get a bell.
	s.Ring("b")
	s.Ring("c")
	if buf.String() != "\a\a\a" {
		t.Fatalf("bell output = %q", buf.String())
	}

	var quiet bytes.Buffer
	s = New(enabled(), nil, nil, logx.Nop())
	s.SetBellWriter(&quiet)
	s.Ring("a")
	if quiet.Len() != 0 {
		t.Fatal("bell disabled should stay silent")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	cases := []struct {
		ev   engine.AlertEvent
		want string
	}{
		{engine.AlertEvent{Key: "G__E", Kind: engine.AlertWarning, Message: "ending soon"}, "⚠️ G / E: ending soon"},
		{engine.AlertEvent{Key: "solo", Kind: engine.AlertOvertime, Message: "time is up"}, "🚨 solo: time is up"},
		{engine.AlertEvent{Key: "G__E", Kind: engine.AlertOvertime, Message: "time is up", OvertimeSeconds: 65}, "🚨 G / E: time is up (+1:05)"},
	}
	for _, c := range cases {
		if got := Render(c.ev); got != c.want {
			t.Fatalf("Render = %q, want %q", got, c.want)
		}
	}
}

func TestRetryDelayBounded(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d delay %v", attempt, d)
		}
	}
}
