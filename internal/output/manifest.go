package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/exp/slices"

	"popextract/internal/engine"
	"popextract/internal/models"
)

// Manifest records every persisted country. It is itself a Sink and must
// come before the file writers so they can attach their artifacts.
type Manifest struct {
	mu      sync.Mutex
	entries map[string]*models.CountryEntry
}

func NewManifest() *Manifest {
	return &Manifest{entries: make(map[string]*models.CountryEntry)}
}

var _ engine.Sink = (*Manifest)(nil)

// Persist starts a fresh entry for c. A later run of the same country
// replaces the earlier one, mirroring what happens on disk.
func (m *Manifest) Persist(_ context.Context, c engine.Country, acc engine.Accumulator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[c.Code] = &models.CountryEntry{
		Code:      c.Code,
		Name:      c.Name,
		Years:     acc.Years(),
		AgeGroups: acc.AgeGroups(),
	}
	return nil
}

func (m *Manifest) attach(code string, a models.Artifact) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[code]
	if !ok {
		e = &models.CountryEntry{Code: code}
		m.entries[code] = e
	}
	for i := range e.Artifacts {
		if e.Artifacts[i].Format == a.Format {
			e.Artifacts[i] = a
			return
		}
	}
	e.Artifacts = append(e.Artifacts, a)
}

// Entries returns a snapshot sorted by country code.
func (m *Manifest) Entries() []models.CountryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	codes := make([]string, 0, len(m.entries))
	for c := range m.entries {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	out := make([]models.CountryEntry, 0, len(codes))
	for _, c := range codes {
		e := *m.entries[c]
		e.Artifacts = append([]models.Artifact(nil), e.Artifacts...)
		out = append(out, e)
	}
	return out
}

// WriteFile stores the manifest as indented JSON.
func (m *Manifest) WriteFile(path string) error {
	data, err := json.MarshalIndent(m.Entries(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}
