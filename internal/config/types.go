package config

// Config is the daemon configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine"`
	Catalog  CatalogConfig  `json:"catalog"`
	Ledger   LedgerConfig   `json:"ledger"`
	Notifier NotifierConfig `json:"notifier"`
	Telegram TelegramConfig `json:"telegram"`
	HTTP     HTTPConfig     `json:"http"`
	Report   ReportConfig   `json:"report"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig controls the timer engine.
//
// Defaults:
//   - tick_interval: "1s"
type EngineConfig struct {
	TickInterval string `json:"tick_interval,omitempty"`
}

// CatalogConfig points at the template catalog (YAML or CSV).
// An empty path uses the built-in catalog.
type CatalogConfig struct {
	Path  string `json:"path,omitempty"`
	Watch bool   `json:"watch,omitempty"`
}

// LedgerConfig selects where session records are stored.
//
// Example:
//
//	"ledger": { "driver": "sqlite", "path": "./chekitimer.db" }
//
// Drivers: memory, file, sqlite, postgres (dsn required).
type LedgerConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	QueueSize int    `json:"queue_size,omitempty"`
	RetryMax  int    `json:"retry_max,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`
}

// NotifierConfig controls alert delivery.
//
// Defaults (when fields are omitted/zero):
//   - rate_per_sec: 3
//   - queue_size: 256
//   - dedup_window: "1m"
//   - dedup_max_entries: 2000
//   - retry_max: 2
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	// Bell rings the terminal bell on stderr when a timer first runs over.
	Bell bool `json:"bell,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout   string `json:"poll_timeout,omitempty"`
	AlertChatID   int64  `json:"alert_chat_id,omitempty"`
	AlertThreadID int    `json:"alert_thread_id,omitempty"`
}

// HTTPConfig controls the health/metrics server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// ReportConfig schedules the periodic ledger summary.
//
// Schedule accepts 5 or 6 field cron specs and descriptors ("@daily", "@every 1h").
type ReportConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	ExportDir string `json:"export_dir,omitempty"`
}
