package config

import (
	"fmt"
	"strings"
	"time"
)

var validDrivers = map[string]bool{
	"":        true, // sqlite by default
	"sqlite":  true,
	"sqlite3": true,
	"memory":  true,
	"mem":     true,
}

var validLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true,
	"warn": true, "warning": true, "error": true,
}

// Duration parses an optional duration field. Empty means zero; negatives
// are rejected so a bad hot-reload cannot smuggle one in.
func Duration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationDefault parses like Duration and substitutes def for an omitted
// or zero field.
func DurationDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks the parts of the config that can be rejected without
// touching the outside world. Cron schedules are checked by the runtime
// validator, which owns the cron parser.
func (c *Config) Validate() error {
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"feed.reconnect_delay", c.Feed.ReconnectDelay},
		{"push.connect_timeout", c.Push.ConnectTimeout},
		{"push.request_timeout", c.Push.RequestTimeout},
		{"dispatch.retry_backoff", c.Dispatch.RetryBackoff},
	} {
		if _, err := Duration(f.path, f.raw); err != nil {
			return err
		}
	}

	if !validDrivers[strings.ToLower(strings.TrimSpace(c.Storage.Driver))] {
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if !validLevels[strings.ToLower(strings.TrimSpace(c.Logging.Level))] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	if strings.TrimSpace(c.Feed.URL) == "" {
		return fmt.Errorf("feed.url: required")
	}
	if c.Dispatch.MaxConcurrent < 0 {
		return fmt.Errorf("dispatch.max_concurrent: must be >= 0")
	}
	if c.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch.rate_per_sec: must be >= 0")
	}
	if c.Dispatch.RetryMax < -1 {
		return fmt.Errorf("dispatch.retry_max: must be >= -1 (-1 disables retries)")
	}
	if c.Push.PoolSize < 0 {
		return fmt.Errorf("push.pool_size: must be >= 0")
	}
	return nil
}
