// Package state holds the process-wide values every component reads: the
// committed network mode and the shared focus-mode domain list.
package state

import (
	"sort"
	"strings"
	"sync"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Global is the single owner of process-wide mutable state. Hold times are
// a map read or slice copy; nothing slow happens under its lock.
type Global struct {
	mu           sync.RWMutex
	mode         model.Mode
	focusDomains []string
}

// New returns a Global with no committed mode.
func New(focusDomains []string) *Global {
	return &Global{focusDomains: NormalizeDomains(focusDomains)}
}

// Mode returns the last committed mode, or "" before the first commit.
func (g *Global) Mode() model.Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode commits m and returns the previous mode.
func (g *Global) SetMode(m model.Mode) model.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.mode
	g.mode = m
	return prev
}

// FocusDomains returns a copy of the focus-mode block list.
func (g *Global) FocusDomains() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.focusDomains...)
}

// SetFocusDomains replaces the block list and returns the normalized form.
func (g *Global) SetFocusDomains(domains []string) []string {
	norm := NormalizeDomains(domains)
	g.mu.Lock()
	g.focusDomains = norm
	g.mu.Unlock()
	return append([]string(nil), norm...)
}

// NormalizeDomains lowercases, trims, strips schemes and trailing dots,
// drops empties and duplicates, and sorts.
func NormalizeDomains(domains []string) []string {
	seen := make(map[string]bool, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "https://")
		d = strings.TrimPrefix(d, "http://")
		if i := strings.IndexByte(d, '/'); i >= 0 {
			d = d[:i]
		}
		d = strings.TrimSuffix(d, ".")
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
