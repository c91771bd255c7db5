package store

import (
	"context"
	"sync"

	"quakepush/pkg/geohash"
)

// Memory is a volatile Repository used by tests and local development.
// It keeps the same cell-bucket invariants as the durable drivers: a bucket
// disappears as soon as its member set is empty.
type Memory struct {
	mu    sync.RWMutex
	subs  map[string]Subscription
	cells map[string]map[string]struct{}
	total int
}

func NewMemory() *Memory {
	return &Memory{
		subs:  map[string]Subscription{},
		cells: map[string]map[string]struct{}{},
	}
}

func (m *Memory) Upsert(_ context.Context, sub Subscription) error {
	cell := geohash.Encode(sub.Latitude, sub.Longitude)

	m.mu.Lock()
	defer m.mu.Unlock()

	old, existed := m.subs[sub.ID]
	if existed {
		oldCell := geohash.Encode(old.Latitude, old.Longitude)
		if oldCell != cell {
			m.removeFromCell(sub.ID, oldCell)
		}
	}

	m.subs[sub.ID] = sub
	bucket, ok := m.cells[cell]
	if !ok {
		bucket = map[string]struct{}{}
		m.cells[cell] = bucket
	}
	bucket[sub.ID] = struct{}{}

	if !existed {
		m.total++
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subs[id]
	if !ok {
		return ErrNotFound
	}
	m.removeFromCell(id, geohash.Encode(sub.Latitude, sub.Longitude))
	delete(m.subs, id)
	if m.total > 0 {
		m.total--
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[id]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (m *Memory) GetByCells(_ context.Context, cells []string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]struct{}{}
	var out []Subscription
	for _, cell := range cells {
		for id := range m.cells[cell] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if sub, ok := m.subs[id]; ok {
				out = append(out, sub)
			}
		}
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total, nil
}

func (m *Memory) Close() error { return nil }

// CellSize reports the member count of one bucket (testing hook).
func (m *Memory) CellSize(cell string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells[cell])
}

// HasCell reports whether a bucket currently exists (testing hook).
func (m *Memory) HasCell(cell string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.cells[cell]
	return ok
}

func (m *Memory) removeFromCell(id, cell string) {
	bucket, ok := m.cells[cell]
	if !ok {
		return
	}
	delete(bucket, id)
	if len(bucket) == 0 {
		delete(m.cells, cell)
	}
}
