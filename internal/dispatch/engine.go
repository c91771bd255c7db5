// Package dispatch fans an early-warning event out to every subscriber in
// the epicenter's cell neighborhood whose estimated intensity clears their
// threshold.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"quakepush/internal/feed"
	"quakepush/internal/notify"
	"quakepush/internal/store"
	"quakepush/pkg/geodesic"
	"quakepush/pkg/geohash"
	"quakepush/pkg/intensity"
	logx "quakepush/pkg/logx"
)

type Config struct {
	// MaxConcurrent sizes the process-wide limiter built by NewLimiter.
	MaxConcurrent int
	// RatePerSec optionally smooths outbound pushes on top of the
	// concurrency cap; 0 disables it.
	RatePerSec int
	// RetryMax is the number of extra attempts after the first failure.
	// Zero picks the default of 2; a negative value disables retries.
	RetryMax int
	// RetryBackoff is the linear backoff step between attempts.
	RetryBackoff time.Duration
	// BatchSize is accepted for config compatibility but has no effect
	// on dispatch; reserved.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1000
	}
	if c.RetryMax == 0 {
		c.RetryMax = 2
	} else if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	return c
}

// NewLimiter builds the shared concurrency limiter. It is constructed once
// at startup and passed into New, so every dispatch cycle competes for the
// same budget and tests can inject a tiny one.
func NewLimiter(capacity int) *semaphore.Weighted {
	if capacity <= 0 {
		capacity = 1000
	}
	return semaphore.NewWeighted(int64(capacity))
}

// Engine implements feed.Handler.
type Engine struct {
	repo   store.Repository
	sender notify.Sender
	sem    *semaphore.Weighted
	log    logx.Logger

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
}

func New(cfg Config, repo store.Repository, sender notify.Sender, sem *semaphore.Weighted, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		repo:   repo,
		sender: sender,
		sem:    sem,
		log:    log,
	}
	e.Apply(cfg)
	return e
}

// Apply updates retry and rate settings at runtime (config reload path).
// The concurrency limiter is fixed at startup.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if cfg.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	} else {
		e.limiter = nil
	}
}

type task struct {
	sub        store.Subscription
	distanceKm float64
	intensity  int
}

// HandleEvent runs one dispatch cycle. It reports only overall failure;
// per-subscriber outcomes are aggregated into the summary log line.
func (e *Engine) HandleEvent(ctx context.Context, ev feed.Event) error {
	start := time.Now()

	center := geohash.Encode(ev.Latitude, ev.Longitude)
	cells := geohash.Neighbors(center)
	e.log.Info("dispatch cycle started",
		logx.String("cell", center),
		logx.Int("cells", len(cells)),
		logx.String("source", ev.SourceType))

	candidates, err := e.repo.GetByCells(ctx, cells)
	if err != nil {
		return fmt.Errorf("query candidates: %w", err)
	}
	if len(candidates) == 0 {
		e.log.Info("no subscribers in range", logx.String("cell", center))
		return nil
	}

	tasks := make([]task, 0, len(candidates))
	for _, sub := range candidates {
		dist, ok := geodesic.Distance(ev.Latitude, ev.Longitude, sub.Latitude, sub.Longitude)
		if !ok {
			dist = 0
		}
		est := intensity.Estimate(ev.Magnitude, dist)
		if est >= sub.MinIntensity {
			tasks = append(tasks, task{sub: sub, distanceKm: dist, intensity: est})
		}
	}
	if len(tasks) == 0 {
		e.log.Info("all subscribers below threshold",
			logx.Int("candidates", len(candidates)))
		return nil
	}

	var succeeded, failed atomic.Int64
	var wg sync.WaitGroup
	for _, tk := range tasks {
		tk := tk
		wg.Add(1)
		go func() {
			defer wg.Done()
			// The permit is held for the unit's whole lifetime,
			// retries included.
			if err := e.sem.Acquire(ctx, 1); err != nil {
				failed.Add(1)
				return
			}
			defer e.sem.Release(1)

			if err := e.sendOne(ctx, tk, ev); err != nil {
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	fields := []logx.Field{
		logx.Int("candidates", len(candidates)),
		logx.Int("dispatched", len(tasks)),
		logx.Int64("succeeded", succeeded.Load()),
		logx.Int64("failed", failed.Load()),
		logx.Duration("elapsed", elapsed),
	}
	if failed.Load() > 0 {
		e.log.Warn("dispatch cycle finished with failures", fields...)
	} else {
		e.log.Info("dispatch cycle finished", fields...)
	}
	return nil
}

func (e *Engine) sendOne(ctx context.Context, tk task, ev feed.Event) error {
	// Snapshot mutable knobs to avoid races with Apply().
	e.mu.Lock()
	lim := e.limiter
	retryMax := e.cfg.RetryMax
	backoff := e.cfg.RetryBackoff
	e.mu.Unlock()

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	title, subtitle, body := alertMessage(ev, tk.distanceKm, tk.intensity)

	policy := RetryPolicy{
		MaxAttempts: retryMax + 1,
		Backoff:     LinearBackoff(backoff),
		Retryable: func(err error) bool {
			var perm *notify.PermanentError
			return !errors.As(err, &perm)
		},
	}

	err := policy.Do(ctx, func(ctx context.Context) error {
		return e.sender.Send(ctx, tk.sub.ID, title, subtitle, body)
	})
	if err == nil {
		return nil
	}

	var perm *notify.PermanentError
	if errors.As(err, &perm) {
		e.pruneTarget(ctx, tk.sub.ID, perm.Code)
	} else {
		e.log.Warn("push failed",
			logx.String("target", tk.sub.ID),
			logx.Err(err))
	}
	return err
}

// pruneTarget removes a subscription whose push key the provider rejected
// for good. This is the sole self-cleaning mechanism; there is no separate
// reconciliation job.
func (e *Engine) pruneTarget(ctx context.Context, id string, code int) {
	e.log.Warn("pruning dead push target",
		logx.String("target", id),
		logx.Int("status", code))

	// Detach from the dispatch context so a cancelled cycle still prunes.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.repo.Delete(dctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.Error("failed deleting dead target", logx.String("target", id), logx.Err(err))
	}
}
