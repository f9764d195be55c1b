package ledger

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"chekitimer/internal/engine"
	rtsup "chekitimer/internal/runtime/supervisor"
	logx "chekitimer/pkg/logx"
)

// WriterConfig tunes the async append pipeline.
type WriterConfig struct {
	QueueSize int
	RetryMax  int
	RetryBase time.Duration
}

// WriterStats are cumulative counters.
type WriterStats struct {
	Written uint64
	Failed  uint64
	Dropped uint64
	Pending int
}

// Writer adapts a Store to engine.Ledger. Append enqueues without blocking;
// one supervised worker writes records in order with bounded retry.
// A full queue drops the record and counts it.
type Writer struct {
	store Store
	log   logx.Logger
	cfg   WriterConfig

	mu        sync.Mutex
	queue     chan engine.SessionRecord
	accepting bool
	sendWG    sync.WaitGroup
	sup       *rtsup.Supervisor
	onResult  func(Record, error)

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

var _ engine.Ledger = (*Writer)(nil)

func NewWriter(store Store, cfg WriterConfig, log logx.Logger) *Writer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Writer{
		store: store,
		log:   log.With(logx.String("comp", "ledger.writer")),
		cfg:   cfg,
	}
}

// OnResult registers a hook called after every write attempt sequence.
// err is nil when the record was stored.
func (w *Writer) OnResult(fn func(Record, error)) {
	w.mu.Lock()
	w.onResult = fn
	w.mu.Unlock()
}

func (w *Writer) Store() Store { return w.store }

// Supervisor returns the worker's supervisor (nil if not started).
func (w *Writer) Supervisor() *rtsup.Supervisor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sup
}

// Start launches the worker. It is idempotent. The worker outlives ctx
// cancellation so records queued during shutdown are still written; Stop
// ends it.
func (w *Writer) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	w.mu.Lock()
	if w.queue != nil {
		w.mu.Unlock()
		return
	}
	w.queue = make(chan engine.SessionRecord, w.cfg.QueueSize)
	w.accepting = true
	w.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(w.log),
		rtsup.WithCancelOnError(false),
	)
	q, sup := w.queue, w.sup
	w.mu.Unlock()

	sup.GoRestart("ledger.worker", func(c context.Context) error {
		return w.loop(c, q)
	}, rtsup.WithPublishFirstError(true))
}

// Append implements engine.Ledger.
func (w *Writer) Append(rec engine.SessionRecord) {
	w.mu.Lock()
	if !w.accepting || w.queue == nil {
		w.mu.Unlock()
		w.dropped.Add(1)
		w.log.Warn("ledger writer not running; record dropped", logx.String("timer_id", rec.TimerID))
		return
	}
	q := w.queue
	w.sendWG.Add(1)
	w.mu.Unlock()
	defer w.sendWG.Done()

	select {
	case q <- rec:
	default:
		w.dropped.Add(1)
		w.log.Warn("ledger queue full; record dropped", logx.String("timer_id", rec.TimerID), logx.String("group", rec.GroupKey), logx.String("entity", rec.EntityKey))
	}
}

// Stop closes intake and waits for queued records to be written, or for ctx.
// On ctx expiry the worker is cancelled and remaining records are lost.
func (w *Writer) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w.mu.Lock()
	q, sup := w.queue, w.sup
	if q == nil || !w.accepting {
		w.mu.Unlock()
		return nil
	}
	w.accepting = false
	w.mu.Unlock()

	w.sendWG.Wait()
	close(q)

	err := sup.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		sup.Cancel()
		w.log.Warn("ledger drain interrupted", logx.Int("pending", len(q)))
	}

	w.mu.Lock()
	w.queue = nil
	w.sup = nil
	w.mu.Unlock()
	return err
}

func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	pending := 0
	if w.queue != nil {
		pending = len(w.queue)
	}
	w.mu.Unlock()
	return WriterStats{
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
		Pending: pending,
	}
}

// loop returns nil once the queue is closed and drained.
func (w *Writer) loop(ctx context.Context, q <-chan engine.SessionRecord) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-q:
			if !ok {
				return nil
			}
			w.write(ctx, rec)
		}
	}
}

func (w *Writer) write(ctx context.Context, rec engine.SessionRecord) {
	w.mu.Lock()
	hook := w.onResult
	w.mu.Unlock()

	attempts := 1 + w.cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		stored, err := w.store.Append(cctx, rec)
		cancel()
		if err == nil {
			w.written.Add(1)
			if hook != nil {
				hook(stored, nil)
			}
			return
		}
		lastErr = err
		if errors.Is(err, ErrClosed) || attempt == attempts {
			break
		}
		w.log.Debug("ledger append failed; retrying", logx.Int("attempt", attempt), logx.Err(err))
		t := time.NewTimer(retryDelay(w.cfg.RetryBase, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = ctx.Err()
			attempt = attempts
		}
	}

	w.failed.Add(1)
	w.log.Error("ledger append failed", logx.String("timer_id", rec.TimerID), logx.String("status", string(rec.Status)), logx.Err(lastErr))
	if hook != nil {
		hook(Record{SessionRecord: rec}, lastErr)
	}
}

// retryDelay is base * 2^(attempt-1) with 0.7..1.3 jitter, capped at 10s.
func retryDelay(base time.Duration, attempt int) time.Duration {
	const maxD = 10 * time.Second
	d := base
	for i := 1; i < attempt && d < maxD; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > maxD {
		d = maxD
	}
	return d
}
