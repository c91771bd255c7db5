package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quakepush/internal/feed"
	"quakepush/internal/notify"
	"quakepush/internal/store"
	logx "quakepush/pkg/logx"
)

// fakeSender records one attempt per Send call and answers from a script.
type fakeSender struct {
	mu    sync.Mutex
	calls map[string]int
	// script decides the outcome of the n-th call (1-based) for a target.
	// Nil means every call succeeds.
	script func(target string, call int) error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	delay time.Duration
}

func (f *fakeSender) Send(_ context.Context, target, _, _, _ string) error {
	cur := f.inFlight.Add(1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[target]++
	n := f.calls[target]
	script := f.script
	f.mu.Unlock()

	if script == nil {
		return nil
	}
	return script(target, n)
}

func (f *fakeSender) callCount(target string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[target]
}

func (f *fakeSender) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newTestEngine(t *testing.T, cfg Config, repo store.Repository, sender notify.Sender) *Engine {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return New(cfg, repo, sender, NewLimiter(cfg.MaxConcurrent), logx.Nop())
}

func mustUpsert(t *testing.T, repo store.Repository, sub store.Subscription) {
	t.Helper()
	if err := repo.Upsert(context.Background(), sub); err != nil {
		t.Fatalf("Upsert(%s): %v", sub.ID, err)
	}
}

func TestHandleEventNoSubscribers(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	sender := &fakeSender{}
	e := newTestEngine(t, Config{}, repo, sender)

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "6", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if sender.totalCalls() != 0 {
		t.Fatalf("sends = %d, want 0", sender.totalCalls())
	}
}

func TestHandleEventThresholdFiltering(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	// At the epicenter the near-field estimate for M4.0 rounds to 4.
	mustUpsert(t, repo, store.NewSubscription("near", 35.0, 139.0, 3))
	// ~14 km out the attenuated estimate drops to 3, below this threshold.
	mustUpsert(t, repo, store.NewSubscription("below", 35.1, 139.1, 4))
	// Hundreds of km out, never part of the cell neighborhood.
	mustUpsert(t, repo, store.NewSubscription("far", 35.0, 133.5, 1))

	sender := &fakeSender{}
	e := newTestEngine(t, Config{}, repo, sender)

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 4.0, Depth: 10,
		MaxIntensity: "4", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := sender.callCount("near"); got != 1 {
		t.Fatalf("near sends = %d, want 1", got)
	}
	if got := sender.callCount("below"); got != 0 {
		t.Fatalf("below sends = %d, want 0", got)
	}
	if got := sender.callCount("far"); got != 0 {
		t.Fatalf("far sends = %d, want 0", got)
	}
}

func TestHandleEventPrunesPermanentFailure(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	mustUpsert(t, repo, store.NewSubscription("dead-key", 35.0, 139.0, 3))
	mustUpsert(t, repo, store.NewSubscription("good-key", 35.0, 139.0, 3))

	sender := &fakeSender{
		script: func(target string, _ int) error {
			if target == "dead-key" {
				return &notify.PermanentError{Code: 404}
			}
			return nil
		},
	}
	e := newTestEngine(t, Config{RetryMax: 2}, repo, sender)

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "7", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	// A permanent rejection must not burn retry attempts.
	if got := sender.callCount("dead-key"); got != 1 {
		t.Fatalf("dead-key sends = %d, want 1", got)
	}
	if _, err := repo.Get(context.Background(), "dead-key"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get(dead-key) err = %v, want ErrNotFound", err)
	}
	if _, err := repo.Get(context.Background(), "good-key"); err != nil {
		t.Fatalf("Get(good-key) err = %v, want nil", err)
	}
}

func TestHandleEventRetriesTransientThenSucceeds(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	mustUpsert(t, repo, store.NewSubscription("flaky", 35.0, 139.0, 3))

	sender := &fakeSender{
		script: func(_ string, call int) error {
			if call < 3 {
				return errors.New("503 from provider")
			}
			return nil
		},
	}
	e := newTestEngine(t, Config{RetryMax: 2}, repo, sender)

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "7", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := sender.callCount("flaky"); got != 3 {
		t.Fatalf("flaky sends = %d, want 3 (first try plus two retries)", got)
	}
	if _, err := repo.Get(context.Background(), "flaky"); err != nil {
		t.Fatalf("transient failures must not prune: %v", err)
	}
}

func TestHandleEventDefaultRetryBudget(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	mustUpsert(t, repo, store.NewSubscription("flaky", 35.0, 139.0, 3))

	sender := &fakeSender{
		script: func(_ string, call int) error {
			if call < 3 {
				return errors.New("timeout")
			}
			return nil
		},
	}
	// The zero config must carry the two-retry default.
	e := newTestEngine(t, Config{}, repo, sender)

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "7", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := sender.callCount("flaky"); got != 3 {
		t.Fatalf("default-config sends = %d, want 3 (first try plus two retries)", got)
	}
}

func TestHandleEventExhaustsRetryBudget(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	mustUpsert(t, repo, store.NewSubscription("down", 35.0, 139.0, 3))

	sender := &fakeSender{
		script: func(string, int) error { return errors.New("timeout") },
	}
	e := newTestEngine(t, Config{RetryMax: 2}, repo, sender)

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "7", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent reports only cycle-level failure, got %v", err)
	}
	if got := sender.callCount("down"); got != 3 {
		t.Fatalf("down sends = %d, want 3", got)
	}
	if _, err := repo.Get(context.Background(), "down"); err != nil {
		t.Fatalf("exhausted retries must not prune: %v", err)
	}
}

func TestHandleEventHonorsConcurrencyCap(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		mustUpsert(t, repo, store.NewSubscription(id, 35.0, 139.0, 0))
	}

	sender := &fakeSender{delay: 5 * time.Millisecond}
	e := New(Config{MaxConcurrent: 2}, repo, sender, NewLimiter(2), logx.Nop())

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "7", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := sender.totalCalls(); got != 5 {
		t.Fatalf("sends = %d, want 5", got)
	}
	if peak := sender.maxInFlight.Load(); peak > 2 {
		t.Fatalf("max in-flight sends = %d, want <= 2", peak)
	}
}

func TestApplySwapsRetrySettings(t *testing.T) {
	t.Parallel()
	repo := store.NewMemory()
	mustUpsert(t, repo, store.NewSubscription("x", 35.0, 139.0, 3))

	sender := &fakeSender{
		script: func(string, int) error { return errors.New("transient") },
	}
	e := newTestEngine(t, Config{RetryMax: 2}, repo, sender)
	e.Apply(Config{RetryMax: -1, RetryBackoff: time.Millisecond})

	err := e.HandleEvent(context.Background(), feed.Event{
		Latitude: 35.0, Longitude: 139.0, Magnitude: 7.0, Depth: 10,
		MaxIntensity: "7", SourceType: "jma_eew",
	})
	if err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if got := sender.callCount("x"); got != 1 {
		t.Fatalf("sends after Apply(RetryMax: -1) = %d, want 1", got)
	}
}

func TestAlertMessage(t *testing.T) {
	t.Parallel()
	ev := feed.Event{
		Latitude: 37.5, Longitude: 137.2, Magnitude: 7.6, Depth: 10,
		MaxIntensity: "7", Region: "石川県能登地方",
	}
	title, subtitle, body := alertMessage(ev, 12.34, 6)
	if title != "地震预警 M7.6" {
		t.Fatalf("title = %q", title)
	}
	if subtitle != "震度 6 级 · 距离 12.3 km" {
		t.Fatalf("subtitle = %q", subtitle)
	}
	if body != "震央: 石川県能登地方\n震源深度: 10 km\n最大震度: 7 级" {
		t.Fatalf("body = %q", body)
	}
}

func TestAlertMessageCoordinateFallback(t *testing.T) {
	t.Parallel()
	ev := feed.Event{Latitude: 35.12, Longitude: 139.87, Magnitude: 5.0, Depth: 30, MaxIntensity: "4"}
	_, _, body := alertMessage(ev, 80, 3)
	if body != "震央: 35.12°N, 139.87°E\n震源深度: 30 km\n最大震度: 4 级" {
		t.Fatalf("body = %q", body)
	}
}
