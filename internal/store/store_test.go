package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"quakepush/pkg/geohash"
	logx "quakepush/pkg/logx"
)

func openTestRepos(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "subs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestRepositoryCRUD(t *testing.T) {
	for name, repo := range openTestRepos(t) {
		repo := repo
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := repo.Get(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(absent) = %v, want ErrNotFound", err)
			}
			if err := repo.Delete(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Delete(absent) = %v, want ErrNotFound", err)
			}

			sub := NewSubscription("abc123", 35.0, 139.0, 3)
			if err := repo.Upsert(ctx, sub); err != nil {
				t.Fatalf("Upsert: %v", err)
			}

			got, err := repo.Get(ctx, "abc123")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Latitude != 35.0 || got.Longitude != 139.0 || got.MinIntensity != 3 {
				t.Fatalf("Get returned %+v", got)
			}

			n, err := repo.Count(ctx)
			if err != nil || n != 1 {
				t.Fatalf("Count = (%d, %v), want 1", n, err)
			}

			// Updating does not change the counter.
			sub.MinIntensity = 5
			if err := repo.Upsert(ctx, sub); err != nil {
				t.Fatalf("Upsert update: %v", err)
			}
			if n, _ := repo.Count(ctx); n != 1 {
				t.Fatalf("Count after update = %d, want 1", n)
			}

			if err := repo.Delete(ctx, "abc123"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if n, _ := repo.Count(ctx); n != 0 {
				t.Fatalf("Count after delete = %d, want 0", n)
			}
			if _, err := repo.Get(ctx, "abc123"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRepositoryGetByCells(t *testing.T) {
	for name, repo := range openTestRepos(t) {
		repo := repo
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Two subscribers in the same cell, one far away.
			near1 := NewSubscription("near1", 35.0001, 139.0001, 1)
			near2 := NewSubscription("near2", 35.0002, 139.0002, 2)
			far := NewSubscription("far", -33.8568, 151.2153, 1)
			for _, s := range []Subscription{near1, near2, far} {
				if err := repo.Upsert(ctx, s); err != nil {
					t.Fatalf("Upsert(%s): %v", s.ID, err)
				}
			}

			cell := geohash.Encode(35.0001, 139.0001)
			// Duplicate cell keys must not produce duplicate rows.
			got, err := repo.GetByCells(ctx, []string{cell, cell})
			if err != nil {
				t.Fatalf("GetByCells: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("GetByCells returned %d subs, want 2", len(got))
			}
			for _, s := range got {
				if s.ID == "far" {
					t.Fatal("far subscriber returned for near cell")
				}
			}

			empty, err := repo.GetByCells(ctx, []string{"zzzz"})
			if err != nil || len(empty) != 0 {
				t.Fatalf("GetByCells(unknown) = (%v, %v), want empty", empty, err)
			}
		})
	}
}

func TestRepositoryCellMigration(t *testing.T) {
	for name, repo := range openTestRepos(t) {
		repo := repo
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sub := NewSubscription("mover", 35.0, 139.0, 3)
			if err := repo.Upsert(ctx, sub); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
			oldCell := geohash.Encode(35.0, 139.0)

			// Relocate to a different cell.
			sub.Latitude, sub.Longitude = 51.5074, -0.1278
			if err := repo.Upsert(ctx, sub); err != nil {
				t.Fatalf("Upsert move: %v", err)
			}
			newCell := geohash.Encode(51.5074, -0.1278)
			if oldCell == newCell {
				t.Fatal("test expects distinct cells")
			}

			inOld, err := repo.GetByCells(ctx, []string{oldCell})
			if err != nil {
				t.Fatalf("GetByCells(old): %v", err)
			}
			for _, s := range inOld {
				if s.ID == "mover" {
					t.Fatal("subscription still present in old cell after move")
				}
			}

			inNew, err := repo.GetByCells(ctx, []string{newCell})
			if err != nil || len(inNew) != 1 || inNew[0].ID != "mover" {
				t.Fatalf("GetByCells(new) = (%v, %v), want mover", inNew, err)
			}

			// Relocation is not a new subscriber.
			if n, _ := repo.Count(ctx); n != 1 {
				t.Fatalf("Count after move = %d, want 1", n)
			}
		})
	}
}

func TestMemoryEmptyCellRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemory()

	sub := NewSubscription("solo", 35.0, 139.0, 0)
	if err := m.Upsert(ctx, sub); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	cell := geohash.Encode(35.0, 139.0)
	if !m.HasCell(cell) {
		t.Fatal("bucket missing after upsert")
	}
	if err := m.Delete(ctx, "solo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if m.HasCell(cell) {
		t.Fatal("empty bucket not removed")
	}
}
