package app

import (
	"strings"
	"time"

	"chekitimer/internal/config"
	"chekitimer/internal/ledger"
	"chekitimer/internal/notifier"
	"chekitimer/internal/observability/httpserver"
	"chekitimer/internal/report"
	kit "chekitimer/internal/transport"
	"chekitimer/internal/transport/telegram"
	logx "chekitimer/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapLedgerConfig(cfg *config.Config) (ledger.Config, error) {
	busy, err := config.ParseDurationOrDefault("ledger.busy_timeout", cfg.Ledger.BusyTimeout, 5*time.Second)
	if err != nil {
		return ledger.Config{}, err
	}
	return ledger.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)),
		Path:        strings.TrimSpace(cfg.Ledger.Path),
		DSN:         strings.TrimSpace(cfg.Ledger.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapWriterConfig(cfg *config.Config) (ledger.WriterConfig, error) {
	base, err := config.ParseDurationOrDefault("ledger.retry_base", cfg.Ledger.RetryBase, 200*time.Millisecond)
	if err != nil {
		return ledger.WriterConfig{}, err
	}
	retry := cfg.Ledger.RetryMax
	if retry == 0 {
		retry = 3
	}
	return ledger.WriterConfig{QueueSize: cfg.Ledger.QueueSize, RetryMax: retry, RetryBase: base}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", cfg.Notifier.DedupWindow, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	retry := cfg.Notifier.RetryMax
	if retry == 0 {
		retry = 2
	}
	return notifier.Config{
		Enabled:         cfg.Notifier.Enabled,
		QueueSize:       cfg.Notifier.QueueSize,
		RatePerSec:      cfg.Notifier.RatePerSec,
		RetryMax:        retry,
		DedupWindow:     window,
		DedupMaxEntries: cfg.Notifier.DedupMaxEntries,
		Bell:            cfg.Notifier.Bell,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:        strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout:  poll,
		OwnerUserIDs: append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		AlertChat:    kit.ChatTarget{ChatID: cfg.Telegram.AlertChatID, ThreadID: cfg.Telegram.AlertThreadID},
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	read, err := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", cfg.HTTP.IdleTimeout, time.Minute)
	if err != nil {
		return httpserver.Config{}, err
	}
	addr := strings.TrimSpace(cfg.HTTP.Addr)
	if addr == "" {
		addr = httpserver.DefaultAddr
	}
	return httpserver.Config{
		Enabled:       cfg.HTTP.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(cfg.HTTP.Token),
		AllowInsecure: cfg.HTTP.AllowInsecure,
		Pprof:         cfg.HTTP.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Enabled:   cfg.Report.Enabled,
		Schedule:  strings.TrimSpace(cfg.Report.Schedule),
		Timezone:  strings.TrimSpace(cfg.Report.Timezone),
		ExportDir: strings.TrimSpace(cfg.Report.ExportDir),
	}
}

// validate is the hot-reload gate: the static checks plus anything that
// needs another package to verify.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Report.Enabled {
		if err := report.ValidateSchedule(cfg.Report.Schedule); err != nil {
			return err
		}
	}
	return nil
}
