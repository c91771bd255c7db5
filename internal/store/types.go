package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and Delete for an unknown subscription.
	ErrNotFound = errors.New("subscription not found")
)

// Config configures the repository backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default when empty)
//   - "memory": volatile in-process store
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Subscription is one push target with its location and alert threshold.
type Subscription struct {
	ID           string  `json:"id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	MinIntensity int     `json:"min_intensity"` // 0-7
	CreatedAt    int64   `json:"created_at"`    // unix milli
}

// NewSubscription stamps CreatedAt with the current time.
func NewSubscription(id string, lat, lon float64, minIntensity int) Subscription {
	return Subscription{
		ID:           id,
		Latitude:     lat,
		Longitude:    lon,
		MinIntensity: minIntensity,
		CreatedAt:    time.Now().UnixMilli(),
	}
}
