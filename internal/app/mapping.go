package app

import (
	"time"

	"quakepush/internal/config"
	"quakepush/internal/dispatch"
	"quakepush/internal/feed"
	"quakepush/internal/notify"
	"quakepush/internal/store"
	logx "quakepush/pkg/logx"
)

// Config section to component-config mapping. Durations live in the config
// file as strings and are resolved here, with component defaults applied.

func storeConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func feedConfig(cfg *config.Config) (feed.Config, error) {
	delay, err := config.DurationDefault("feed.reconnect_delay", cfg.Feed.ReconnectDelay, 5*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{
		URL:            cfg.Feed.URL,
		ReconnectDelay: delay,
	}, nil
}

func pushConfig(cfg *config.Config) (notify.Config, error) {
	connect, err := config.DurationDefault("push.connect_timeout", cfg.Push.ConnectTimeout, 5*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	request, err := config.DurationDefault("push.request_timeout", cfg.Push.RequestTimeout, 10*time.Second)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		BaseURL:        cfg.Push.BaseURL,
		PoolSize:       cfg.Push.PoolSize,
		ConnectTimeout: connect,
		RequestTimeout: request,
	}, nil
}

func dispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	backoff, err := config.DurationDefault("dispatch.retry_backoff", cfg.Dispatch.RetryBackoff, 100*time.Millisecond)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		RatePerSec:    cfg.Dispatch.RatePerSec,
		RetryMax:      cfg.Dispatch.RetryMax,
		RetryBackoff:  backoff,
		BatchSize:     cfg.Dispatch.BatchSize,
	}, nil
}

func loggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func serverTimeouts(cfg *config.Config) (read, write, shutdown time.Duration, err error) {
	read, err = config.DurationDefault("server.read_timeout", cfg.Server.ReadTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, 0, err
	}
	write, err = config.DurationDefault("server.write_timeout", cfg.Server.WriteTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, 0, err
	}
	shutdown, err = config.DurationDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, 0, err
	}
	return read, write, shutdown, nil
}
