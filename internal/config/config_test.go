package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "chekitimer/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
engine:
  tick_interval: 500ms
catalog:
  path: ./catalog.csv
  watch: true
ledger:
  driver: sqlite
  path: ./ledger.db
  busy_timeout: 5s
notifier:
  enabled: true
  rate_per_sec: 2
  bell: true
telegram:
  enabled: false
http:
  enabled: true
  addr: 127.0.0.1:9090
report:
  enabled: true
  schedule: "@daily"
  timezone: UTC
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.TickInterval != "500ms" || cfg.Ledger.Driver != "sqlite" || !cfg.Notifier.Bell {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.json", `{"ledger":{"driver":"memory"},"report":{"enabled":false}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ledger.Driver != "memory" {
		t.Fatalf("driver = %q", cfg.Ledger.Driver)
	}
}

func TestLoadRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"config.yaml": "ledger:\n  driver: memory\n  bogus: 1\n",
		"config.json": `{"ledger":{"driver":"memory"}} {"x":1}`,
	}
	for name, body := range cases {
		if _, err := NewManager(writeFile(t, name, body)).Load(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"ok", Config{}, ""},
		{"bad duration", Config{Engine: EngineConfig{TickInterval: "soon"}}, "engine.tick_interval"},
		{"tick too small", Config{Engine: EngineConfig{TickInterval: "10ms"}}, ">= 100ms"},
		{"bad driver", Config{Ledger: LedgerConfig{Driver: "mongo"}}, "ledger.driver"},
		{"sqlite needs path", Config{Ledger: LedgerConfig{Driver: "sqlite"}}, "ledger.path"},
		{"postgres needs dsn", Config{Ledger: LedgerConfig{Driver: "postgres"}}, "ledger.dsn"},
		{"telegram needs token", Config{Telegram: TelegramConfig{Enabled: true}}, "telegram.token"},
		{"report needs schedule", Config{Report: ReportConfig{Enabled: true}}, "report.schedule"},
		{"bad tz", Config{Report: ReportConfig{Enabled: true, Schedule: "@daily", Timezone: "Mars/Base"}}, "report.timezone"},
		{"bad level", Config{Logging: LoggingConfig{Level: "loud"}}, "logging.level"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			err := Validate(&c.cfg)
			if c.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err = %v, want mention of %q", err, c.want)
			}
		})
	}
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	if err != nil || published {
		t.Fatalf("unchanged reload = %v, %v", published, err)
	}

	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, "500ms", "2s", 1)), 0o644); err != nil {
		t.Fatal(err)
	}
	published, err = m.Reload(context.Background())
	if err != nil || !published {
		t.Fatalf("changed reload = %v, %v", published, err)
	}
	got := <-ch
	if got.Engine.TickInterval != "2s" {
		t.Fatalf("published tick = %q", got.Engine.TickInterval)
	}
}

func TestReloadRejectedByValidator(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("ledger:\n  driver: mongo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected validator rejection")
	}
	if m.Get().Ledger.Driver != "sqlite" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestPublishKeepsNewestForSlowSubscriber(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.yaml")
	ch := m.Subscribe(1)
	a := &Config{Engine: EngineConfig{TickInterval: "1s"}}
	b := &Config{Engine: EngineConfig{TickInterval: "2s"}}
	m.publish(a)
	m.publish(b)
	if got := <-ch; got != b {
		t.Fatalf("got %+v, want newest", got)
	}
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("Unsubscribe should close the channel")
	}
}

func TestSummarizeChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Report: ReportConfig{Schedule: "@hourly"}}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "report,telegram" {
		t.Fatalf("changed = %v", changed)
	}
}

func TestDurations(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if DurationOr("garbage", time.Minute) != time.Minute {
		t.Fatal("DurationOr should fall back")
	}
}

func TestWatchFileFiresOnWrite(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "watched.yaml", "a: 1\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, path, logx.Nop(), func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		})
	}()

	// The watcher may not be registered yet; touch the file (slower than the
	// debounce) until it fires.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(600 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-fired:
			cancel()
			if err := <-done; err != nil {
				t.Fatal(err)
			}
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte("a: 2\n"), 0o644)
		case <-deadline:
			t.Fatal("watch never fired")
		}
	}
}
