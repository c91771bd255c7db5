// Package app wires the daemon together: config, logging, store, feed
// client, dispatch engine, HTTP API and the stats schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quakepush/internal/config"
	"quakepush/internal/dispatch"
	"quakepush/internal/feed"
	"quakepush/internal/httpapi"
	"quakepush/internal/notify"
	"quakepush/internal/store"
	logx "quakepush/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	logs *logx.Service
	log  logx.Logger

	repo   store.Repository
	engine *dispatch.Engine
	client *feed.Client

	httpSrv         *http.Server
	shutdownTimeout time.Duration

	cron        *cron.Cron
	statsMu     sync.Mutex
	statsEntry  cron.EntryID
	statsSched  string
	statsActive bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(loggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := storeConfig(cfg)
	if err != nil {
		return nil, err
	}
	repo, err := store.Open(sc, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	pc, err := pushConfig(cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	sender := notify.NewBark(pc, log.With(logx.String("comp", "push")))

	dc, err := dispatchConfig(cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	engine := dispatch.New(dc, repo, sender,
		dispatch.NewLimiter(dc.MaxConcurrent),
		log.With(logx.String("comp", "dispatch")))

	fc, err := feedConfig(cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	client := feed.NewClient(fc, engine, log.With(logx.String("comp", "feed")))

	readT, writeT, shutdownT, err := serverTimeouts(cfg)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	addr := strings.TrimSpace(cfg.Server.Addr)
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      httpapi.NewRouter(repo, log.With(logx.String("comp", "api"))),
		ReadTimeout:  readT,
		WriteTimeout: writeT,
	}

	return &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		logs:            logs,
		log:             log,
		repo:            repo,
		engine:          engine,
		client:          client,
		httpSrv:         httpSrv,
		shutdownTimeout: shutdownT,
		cron:            cron.New(),
	}, nil
}

// Start launches every long-running component. It returns once everything
// is up; the app then runs until Stop.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		// Parse() already ran structural validation; check the parts
		// owned by runtime components.
		if cfg.Stats.Enabled {
			if err := validateSchedule(cfg.Stats.Schedule); err != nil {
				return err
			}
		}
		return nil
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.client.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("http api listening", logx.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http api failed", logx.Err(err))
			a.cancel()
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.cfgm.Watch(ctx)
	}()

	a.cron.Start()
	if cfg := a.cfgm.Get(); cfg != nil {
		if err := a.applyStats(cfg.Stats); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(ctx, sub)
	}()

	a.log.Info("started", logx.String("config", a.cfgPath))
	return nil
}

// Stop shuts the daemon down: HTTP drains within the configured timeout,
// background loops exit via context, then the store closes.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	sctx, cancel := context.WithTimeout(ctx, a.shutdownTimeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(sctx); err != nil {
		a.log.Warn("http shutdown incomplete", logx.Err(err))
	}

	cronCtx := a.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-sctx.Done():
	}

	a.wg.Wait()

	var firstErr error
	if err := a.repo.Close(); err != nil {
		firstErr = err
		a.log.Error("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return firstErr
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
			lastApplied = newCfg

			a.logs.Apply(loggingConfig(newCfg))

			if dc, err := dispatchConfig(newCfg); err == nil {
				a.engine.Apply(dc)
			} else {
				a.log.Warn("dispatch config not applied", logx.Err(err))
			}

			if err := a.applyStats(newCfg.Stats); err != nil {
				a.log.Warn("stats schedule not applied", logx.Err(err))
			}

			// Connection-owning sections only take effect on restart.
			for _, s := range sections {
				switch s {
				case "storage", "feed", "server", "push":
					a.log.Warn("section requires restart to take effect", logx.String("section", s))
				}
			}
		}
	}
}

// applyStats reconciles the cron entry with the stats section.
func (a *App) applyStats(sc config.StatsConfig) error {
	schedule := strings.TrimSpace(sc.Schedule)
	if schedule == "" {
		schedule = "0 * * * *"
	}

	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	if a.statsActive && (!sc.Enabled || schedule != a.statsSched) {
		a.cron.Remove(a.statsEntry)
		a.statsActive = false
	}
	if !sc.Enabled || a.statsActive {
		return nil
	}

	id, err := a.cron.AddFunc(schedule, a.reportStats)
	if err != nil {
		return fmt.Errorf("stats.schedule: %w", err)
	}
	a.statsEntry = id
	a.statsSched = schedule
	a.statsActive = true
	a.log.Info("stats report scheduled", logx.String("schedule", schedule))
	return nil
}

func (a *App) reportStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	total, err := a.repo.Count(ctx)
	if err != nil {
		a.log.Warn("stats report failed", logx.Err(err))
		return
	}
	a.log.Info("subscriber report",
		logx.Int("total_subscriptions", total),
		logx.String("feed_state", a.client.State().String()))
}

func validateSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("stats.schedule: invalid %q: %w", spec, err)
	}
	return nil
}
