package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "chekitimer/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// LedgerDrivers lists accepted ledger.driver values.
var LedgerDrivers = []string{"memory", "file", "sqlite", "postgres"}

// Validate checks fields that can be verified without touching the outside
// world. It returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("engine.tick_interval", cfg.Engine.TickInterval)
	check("ledger.busy_timeout", cfg.Ledger.BusyTimeout)
	check("ledger.retry_base", cfg.Ledger.RetryBase)
	check("notifier.dedup_window", cfg.Notifier.DedupWindow)
	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check("http.read_timeout", cfg.HTTP.ReadTimeout)
	check("http.idle_timeout", cfg.HTTP.IdleTimeout)

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown %q", lvl))
		}
	}
	if d := DurationOr(cfg.Engine.TickInterval, time.Second); d < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("engine.tick_interval: must be >= 100ms"))
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	switch driver {
	case "", "memory":
	case "file", "sqlite":
		if strings.TrimSpace(cfg.Ledger.Path) == "" {
			errs = append(errs, fmt.Errorf("ledger.path: required for driver %q", driver))
		}
	case "postgres":
		if strings.TrimSpace(cfg.Ledger.DSN) == "" {
			errs = append(errs, errors.New("ledger.dsn: required for driver \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.driver: unknown %q (want one of %s)", cfg.Ledger.Driver, strings.Join(LedgerDrivers, ", ")))
	}
	if cfg.Ledger.QueueSize < 0 || cfg.Ledger.RetryMax < 0 {
		errs = append(errs, errors.New("ledger: queue_size and retry_max must be >= 0"))
	}

	if cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, errors.New("notifier.rate_per_sec: must be >= 0"))
	}

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token: required when telegram.enabled"))
	}

	if cfg.Report.Enabled {
		if strings.TrimSpace(cfg.Report.Schedule) == "" {
			errs = append(errs, errors.New("report.schedule: required when report.enabled"))
		}
		if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				errs = append(errs, fmt.Errorf("report.timezone: %w", err))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
