package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"chekitimer/internal/engine"
	"chekitimer/internal/eventbus"
	rtsup "chekitimer/internal/runtime/supervisor"
	logx "chekitimer/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	n        Notification
	dedupKey string
}

// Service implements the alert pipeline:
// bus subscription + queue + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	unsub     func()

	bellMu  sync.Mutex
	bellW   io.Writer
	bellLim map[string]*rate.Limiter

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	now func() time.Time
}

var _ engine.Alarm = (*Service)(nil)

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		sender:  sender,
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		dedup:   map[string]time.Time{},
		bellW:   os.Stderr,
		bellLim: map[string]*rate.Limiter{},
		now:     time.Now,
	}
	s.applyLocked(cfg)
	return s
}

// Supervisor returns the internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetSender swaps the delivery target; nil disables delivery.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// SetBellWriter redirects Ring output (default os.Stderr).
func (s *Service) SetBellWriter(w io.Writer) {
	s.bellMu.Lock()
	s.bellW = w
	s.bellMu.Unlock()
}

// Apply swaps config at runtime. Queue size changes take effect on the next
// Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// Burst equals the per-second rate so short spikes go out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start subscribes to the bus and launches the delivery worker.
// It is idempotent and does nothing when disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	events, unsub := s.bus.Subscribe(64)
	s.unsub = unsub
	sup, q := s.sup, s.queue
	s.mu.Unlock()

	sup.GoRestart("notifier.events", func(c context.Context) error {
		return s.eventLoop(c, events)
	}, rtsup.WithPublishFirstError(true))
	sup.GoRestart("notifier.worker", func(c context.Context) error {
		return s.workerLoop(c, q)
	}, rtsup.WithPublishFirstError(true))
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, sup, unsub := s.queue, s.sup, s.unsub
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.sendWG.Wait()
	close(q)

	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		sup.Cancel()
		s.log.Warn("notifier drain interrupted", logx.Int("pending", len(q)))
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.unsub = nil
	s.mu.Unlock()
}

func (s *Service) eventLoop(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			alert, ok := ev.Data.(engine.AlertEvent)
			if !ok {
				continue
			}
			err := s.Notify(ctx, Notification{
				Key:     alert.Key,
				Kind:    string(alert.Kind),
				TimerID: alert.TimerID,
				Text:    Render(alert),
			})
			if err != nil && !errors.Is(err, ErrStopped) {
				s.log.Warn("alert not queued", logx.String("key", alert.Key), logx.String("kind", string(alert.Kind)), logx.Err(err))
			}
		}
	}
}

// Notify queues n for delivery. Duplicates within the dedup window are
// accepted and silently discarded.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		s.publish(EventDeduped, n, nil)
		return nil
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		s.publish(EventDropped, n, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()

	if sender == nil || j.n.Text == "" {
		// No transport configured; keep the history so /alerts still works.
		s.appendHistory(j.n)
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sender.SendAlert(callCtx, j.n.Text)
		cancel()
		if err == nil {
			s.appendHistory(j.n)
			s.publish(EventSent, j.n, nil)
			return
		}
		lastErr = err
		s.log.Debug("alert send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt >= attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("alert delivery failed", logx.String("key", j.n.Key), logx.String("kind", j.n.Kind), logx.Err(lastErr))
	s.publish(EventFailed, j.n, lastErr)
}

func (s *Service) publish(typ string, n Notification, err error) {
	ev := NotificationEvent{Key: n.Key, Kind: n.Kind, At: s.now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Key: n.Key, Time: ev.At, Data: ev})
}

// Ring implements engine.Alarm.
func (s *Service) Ring(key string) {
	s.mu.Lock()
	enabled := s.cfg.Bell
	s.mu.Unlock()
	if !enabled {
		return
	}
	s.bellMu.Lock()
	defer s.bellMu.Unlock()
	if s.bellW == nil || !s.bellLimiter(key).Allow() {
		return
	}
	if _, err := io.WriteString(s.bellW, "\a"); err != nil {
		s.log.Debug("bell write failed", logx.String("key", key), logx.Err(err))
	}
}

// bellLimiter returns key's limiter: one bell per timer key per second.
// Caller holds bellMu.
func (s *Service) bellLimiter(key string) *rate.Limiter {
	if lim, ok := s.bellLim[key]; ok {
		return lim
	}
	if len(s.bellLim) >= maxBellKeys {
		clear(s.bellLim)
	}
	lim := rate.NewLimiter(rate.Every(time.Second), 1)
	s.bellLim[key] = lim
	return lim
}

const maxBellKeys = 256

// History returns recently delivered notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n Notification) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: s.now(), Key: n.Key, Kind: n.Kind, Text: n.Text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

// Render formats an alert for people.
func Render(a engine.AlertEvent) string {
	group, entity := engine.SplitKey(a.Key)
	who := entity
	if group != "" {
		who = group + " / " + entity
	}
	switch a.Kind {
	case engine.AlertOvertime:
		if a.OvertimeSeconds > 0 {
			return fmt.Sprintf("🚨 %s: %s (+%s)", who, a.Message, engine.FormatClock(a.OvertimeSeconds))
		}
		return fmt.Sprintf("🚨 %s: %s", who, a.Message)
	default:
		return fmt.Sprintf("⚠️ %s: %s", who, a.Message)
	}
}

func dedupKey(n Notification) string {
	if n.Key == "" && n.TimerID == "" {
		return "text|" + n.Text
	}
	return n.Key + "|" + n.Kind + "|" + n.TimerID
}

func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	now := s.now()
	s.dmu.Lock()
	defer s.dmu.Unlock()

	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Evict earliest expiries until within the cap.
	for maxEntries > 0 && len(s.dedup) > maxEntries {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
	return true
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
