package output

import (
	"context"
	"sync"

	"popextract/internal/engine"
)

// Memory keeps the latest accumulator of every country for serving.
type Memory struct {
	mu        sync.RWMutex
	countries map[string]engine.Accumulator
}

func NewMemory() *Memory {
	return &Memory{countries: make(map[string]engine.Accumulator)}
}

var _ engine.Sink = (*Memory)(nil)

func (m *Memory) Persist(_ context.Context, c engine.Country, acc engine.Accumulator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countries[c.Code] = acc.Clone()
	return nil
}

// Country returns the stored accumulator for code.
func (m *Memory) Country(code string) (engine.Accumulator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.countries[code]
	return acc, ok
}

// Snapshot copies the map; the accumulators themselves are never mutated.
func (m *Memory) Snapshot() map[string]engine.Accumulator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]engine.Accumulator, len(m.countries))
	for k, v := range m.countries {
		out[k] = v
	}
	return out
}
