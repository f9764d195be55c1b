package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"chekitimer/internal/engine"
	"chekitimer/internal/eventbus"
	"chekitimer/internal/ledger"
	"chekitimer/internal/notifier"
)

const (
	metricPrefix = "chekitimer_"

	resultSuccess = "success"
	resultError   = "error"
)

// Sources are read on every scrape. Nil fields are skipped.
type Sources struct {
	ActiveTimers func() int
	AlertsActive func() int
	BusDropped   func() uint64
	LedgerQueue  func() int
}

var (
	registerOnce sync.Once

	timerEvents   *prometheus.CounterVec
	alertsTotal   *prometheus.CounterVec
	notifications *prometheus.CounterVec
	ledgerWrites  *prometheus.CounterVec

	timersByState *prometheus.GaugeVec
	lastTick      prometheus.Gauge

	sessionSeconds  *prometheus.HistogramVec
	sessionOvertime prometheus.Histogram
)

// Init registers the collectors with the default registry. Later calls are
// no-ops, including their Sources.
func Init(src Sources) {
	registerOnce.Do(func() {
		timerEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timer_events_total",
				Help: "Timer lifecycle events by type",
			},
			[]string{"event"},
		)
		alertsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alerts_total",
				Help: "Alerts raised by kind",
			},
			[]string{"kind"},
		)
		notifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Alert notifications by outcome",
			},
			[]string{"outcome"},
		)
		ledgerWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_writes_total",
				Help: "Session records written to the ledger by result",
			},
			[]string{"result"},
		)

		timersByState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "timers",
				Help: "Timers seen by the last tick, by state",
			},
			[]string{"state"},
		)
		lastTick = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_tick_timestamp_seconds",
				Help: "Unix time of the last evaluation pass",
			},
		)

		sessionSeconds = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "session_scheduled_seconds",
				Help:    "Scheduled length of finished sessions by status",
				Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"status"},
		)
		sessionOvertime = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "session_overtime_seconds",
				Help:    "Signed overtime of completed sessions (negative means early)",
				Buckets: prometheus.LinearBuckets(-300, 60, 11),
			},
		)

		prometheus.MustRegister(
			timerEvents,
			alertsTotal,
			notifications,
			ledgerWrites,
			timersByState,
			lastTick,
			sessionSeconds,
			sessionOvertime,
		)
		registerSources(src)
	})
}

func registerSources(src Sources) {
	if src.ActiveTimers != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "active_timers",
				Help: "Timers currently held by the registry",
			},
			func() float64 { return float64(src.ActiveTimers()) },
		))
	}
	if src.AlertsActive != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "alerts_active",
				Help: "Keys with an alert on the alert bus",
			},
			func() float64 { return float64(src.AlertsActive()) },
		))
	}
	if src.BusDropped != nil {
		prometheus.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: metricPrefix + "eventbus_dropped_total",
				Help: "Events dropped because a subscriber was full",
			},
			func() float64 { return float64(src.BusDropped()) },
		))
	}
	if src.LedgerQueue != nil {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "ledger_pending",
				Help: "Session records waiting for the ledger writer",
			},
			func() float64 { return float64(src.LedgerQueue()) },
		))
	}
}

// ObserveEvent updates counters from one bus event.
func ObserveEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TimerStarted, eventbus.TimerQueued, eventbus.TimerPaused, eventbus.TimerResumed:
		incTimerEvent(e.Type)
	case eventbus.TimerStopped, eventbus.TimerCancelled:
		incTimerEvent(e.Type)
		if rec, ok := e.Data.(engine.SessionRecord); ok {
			ObserveSession(rec)
		}
	case eventbus.AlertWarning:
		incAlert(string(engine.AlertWarning))
	case eventbus.AlertOvertime:
		incAlert(string(engine.AlertOvertime))
	case notifier.EventSent:
		incNotification("sent")
	case notifier.EventFailed:
		incNotification("failed")
	case notifier.EventDropped:
		incNotification("dropped")
	case notifier.EventDeduped:
		incNotification("deduped")
	}
}

// ObserveSession records the scheduled length and, for completed sessions,
// the signed overtime.
func ObserveSession(rec engine.SessionRecord) {
	status := string(rec.Status)
	if status == "" {
		status = "unknown"
	}
	if sessionSeconds != nil {
		sessionSeconds.WithLabelValues(status).Observe(float64(rec.TotalSeconds))
	}
	if rec.Status == engine.StatusCompleted && sessionOvertime != nil {
		sessionOvertime.Observe(float64(rec.OvertimeSeconds))
	}
}

// ObserveTick is an engine.Ticker hook.
func ObserveTick(st engine.TickStats) {
	if timersByState != nil {
		timersByState.WithLabelValues("running").Set(float64(st.Running))
		timersByState.WithLabelValues("paused").Set(float64(st.Paused))
		timersByState.WithLabelValues("overtime").Set(float64(st.Overtime))
	}
	if lastTick != nil && !st.At.IsZero() {
		lastTick.Set(float64(st.At.UnixMilli()) / 1000)
	}
}

// ObserveLedgerWrite is a ledger.Writer result hook.
func ObserveLedgerWrite(_ ledger.Record, err error) {
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if ledgerWrites != nil {
		ledgerWrites.WithLabelValues(result).Inc()
	}
}

// Consume feeds bus events into ObserveEvent until ctx is done or the
// channel closes.
func Consume(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			ObserveEvent(e)
		}
	}
}

func incTimerEvent(event string) {
	if timerEvents != nil {
		timerEvents.WithLabelValues(event).Inc()
	}
}

func incAlert(kind string) {
	if alertsTotal != nil {
		alertsTotal.WithLabelValues(kind).Inc()
	}
}

func incNotification(outcome string) {
	if notifications != nil {
		notifications.WithLabelValues(outcome).Inc()
	}
}
