package store

import (
	"context"
	"errors"
	"strings"

	logx "quakepush/pkg/logx"
)

// Repository is the persistence API consumed by the dispatcher and the HTTP
// layer. Implementations own durability and the geohash secondary index.
type Repository interface {
	// Upsert inserts or replaces a subscription, migrating its cell bucket
	// when the location changed. The total counter moves only on first
	// insert.
	Upsert(ctx context.Context, sub Subscription) error
	// Delete removes a subscription; ErrNotFound when absent.
	Delete(ctx context.Context, id string) error
	// Get returns a subscription; ErrNotFound when absent.
	Get(ctx context.Context, id string) (Subscription, error)
	// GetByCells returns the subscriptions of all given cell buckets,
	// deduplicated by ID.
	GetByCells(ctx context.Context, cells []string) ([]Subscription, error)
	// Count returns the persisted subscriber total.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Open initializes the configured repository.
func Open(cfg Config, log logx.Logger) (Repository, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
