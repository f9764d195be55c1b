// Package report runs the periodic ledger summary on a cron schedule.
package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chekitimer/internal/ledger"
	"chekitimer/internal/ledger/export"
	logx "chekitimer/pkg/logx"
)

const DefaultSchedule = "@daily"

type Config struct {
	Enabled   bool
	Schedule  string
	Timezone  string
	ExportDir string
	// Timeout bounds one run (default 1m).
	Timeout time.Duration
}

// Result describes one report run.
type Result struct {
	At      time.Time
	Summary ledger.Summary
	// File is the XLSX written to ExportDir, empty when none was written.
	File string
}

// Service owns a cron instance with a single report job.
type Service struct {
	store  ledger.Store
	log    logx.Logger
	parser cron.Parser
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	runCtx  context.Context
	last    Result
	lastErr error
}

func New(cfg Config, store ledger.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store: store,
		log:   log.With(logx.String("comp", "report")),
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		now:    time.Now,
		cfg:    cfg,
	}
}

// ValidateSchedule reports whether spec parses. Empty means DefaultSchedule.
func ValidateSchedule(spec string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(scheduleOrDefault(spec)); err != nil {
		return fmt.Errorf("report.schedule: %w", err)
	}
	return nil
}

func scheduleOrDefault(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return DefaultSchedule
	}
	return s
}

// Start registers the job and starts cron. Idempotent; no-op when disabled.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runCtx = ctx
	if s.c != nil || !s.cfg.Enabled {
		return nil
	}
	return s.startLocked()
}

func (s *Service) startLocked() error {
	loc := s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := scheduleOrDefault(s.cfg.Schedule)
	id, err := c.AddFunc(spec, s.runScheduled)
	if err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	s.c = c
	s.entry = id
	c.Start()
	next := c.Entry(id).Next
	s.log.Info("report scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()), logx.Time("next", next))
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stop halts cron and waits for a running job, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("report stop timed out")
	}
}

// Apply swaps the config and restarts cron when the schedule, timezone or
// enabled flag changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	c := s.c
	runCtx := s.runCtx
	s.mu.Unlock()

	if runCtx == nil {
		// never started
		return nil
	}
	if c != nil && prev.Enabled == cfg.Enabled && scheduleOrDefault(prev.Schedule) == scheduleOrDefault(cfg.Schedule) && prev.Timezone == cfg.Timezone {
		return nil
	}
	s.Stop(context.Background())
	return s.Start(runCtx)
}

// Next reports the next scheduled run, zero when not running.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// Last returns the most recent run and its error.
func (s *Service) Last() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

func (s *Service) runScheduled() {
	s.mu.Lock()
	ctx := s.runCtx
	timeout := s.cfg.Timeout
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.RunOnce(rctx); err != nil {
		s.log.Warn("report failed", logx.Err(err))
	}
}

// RunOnce summarizes the ledger and, with ExportDir set and records present,
// writes an XLSX snapshot.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	res, err := s.run(ctx)
	s.mu.Lock()
	s.last, s.lastErr = res, err
	s.mu.Unlock()
	return res, err
}

func (s *Service) run(ctx context.Context) (Result, error) {
	if s.store == nil {
		return Result{}, errors.New("report: no ledger store")
	}
	s.mu.Lock()
	dir := strings.TrimSpace(s.cfg.ExportDir)
	loc := s.loadLocationLocked()
	s.mu.Unlock()

	res := Result{At: s.now().In(loc)}
	recs, err := s.store.List(ctx)
	if err != nil {
		return res, fmt.Errorf("report list: %w", err)
	}
	res.Summary = ledger.Summarize(recs)
	s.log.Info("ledger report",
		logx.Int("sessions", res.Summary.Count),
		logx.Int("completed", res.Summary.Completed),
		logx.Int("cancelled", res.Summary.Cancelled),
		logx.Int("units", res.Summary.TotalUnits),
		logx.Int("net_overtime_s", res.Summary.NetOvertime),
		logx.String("overtime", res.Summary.OvertimeLabel()),
	)
	if dir == "" || len(recs) == 0 {
		return res, nil
	}

	data, err := export.XLSX(recs, res.Summary)
	if err != nil {
		return res, fmt.Errorf("report export: %w", err)
	}
	path := filepath.Join(dir, export.FileName("ledger", "xlsx", res.At))
	if err := writeFileAtomic(path, data); err != nil {
		return res, fmt.Errorf("report write: %w", err)
	}
	res.File = path
	s.log.Info("report exported", logx.String("path", path), logx.Int("bytes", len(data)))
	return res, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
