package config

// Config is the full on-disk configuration. YAML and JSON are both
// accepted; YAML is coerced to JSON so one strict decoder covers both.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Feed     FeedConfig     `json:"feed"`
	Push     PushConfig     `json:"push"`
	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging"`
	Stats    StatsConfig    `json:"stats,omitempty"`
}

// ServerConfig controls the subscription HTTP API.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr            string `json:"addr"` // default ":8080"
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// StorageConfig controls the subscription store.
//
// Driver values:
//   - "sqlite": SQLite database file (default when empty)
//   - "memory": volatile in-process store
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// FeedConfig controls the upstream early-warning WebSocket feed.
type FeedConfig struct {
	URL string `json:"url"`
	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay string `json:"reconnect_delay,omitempty"` // default "5s"
}

// PushConfig controls the Bark push sender.
type PushConfig struct {
	BaseURL        string `json:"base_url"` // default "https://api.day.app"
	PoolSize       int    `json:"pool_size,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"` // default "5s"
	RequestTimeout string `json:"request_timeout,omitempty"` // default "10s"
}

// DispatchConfig controls the fan-out engine.
//
// MaxConcurrent sizes the process-wide send limiter and is fixed at
// startup; changing it requires a restart. The remaining knobs take
// effect on reload.
type DispatchConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"` // default 1000
	RatePerSec    int `json:"rate_per_sec,omitempty"`   // 0 disables smoothing
	// RetryMax is the number of extra attempts after the first failure.
	// Omitted or 0 picks the default of 2; -1 disables retries.
	RetryMax int `json:"retry_max,omitempty"`
	// RetryBackoff is the linear backoff step between attempts.
	RetryBackoff string `json:"retry_backoff,omitempty"` // default "100ms"
	// BatchSize is accepted but currently unused; reserved.
	BatchSize int `json:"batch_size,omitempty"`
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

// StatsConfig controls the periodic subscriber-count report.
// Schedule is a standard 5-field cron expression.
type StatsConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // default "0 * * * *"
}
