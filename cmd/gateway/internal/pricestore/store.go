// Package pricestore holds the in-memory price table shared by the updater and every push loop.
package pricestore

import (
	"sort"
	"sync"
)

// Store maps a fixed set of symbols to their current price.
// The symbol set is fixed at construction; updates never add or remove symbols.
type Store struct {
	mu      sync.RWMutex
	prices  map[string]float64
	symbols []string

	floorEnabled bool
	floor        float64
}

type Option func(*Store)

// WithFloor clamps every updated price to at least floor.
func WithFloor(floor float64) Option {
	return func(s *Store) {
		s.floorEnabled = true
		s.floor = floor
	}
}

func New(seed map[string]float64, opts ...Option) *Store {
	s := &Store{
		prices:  make(map[string]float64, len(seed)),
		symbols: make([]string, 0, len(seed)),
	}
	for sym, price := range seed {
		s.prices[sym] = price
		s.symbols = append(s.symbols, sym)
	}
	sort.Strings(s.symbols)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the whole table.
func (s *Store) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

func (s *Store) Get(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Symbols returns the seeded symbols in sorted order.
func (s *Store) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

func (s *Store) Len() int { return len(s.symbols) }

// ApplyDelta adds delta to symbol's price. Unknown symbols are left alone and report false.
func (s *Store) ApplyDelta(symbol string, delta float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(symbol, delta)
}

// ApplyDeltas applies a whole tick under one lock, so readers see either none or all of it.
// It returns the new price of every known symbol it touched.
func (s *Store) ApplyDeltas(deltas map[string]float64) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]float64, len(deltas))
	for sym, d := range deltas {
		if p, ok := s.applyLocked(sym, d); ok {
			out[sym] = p
		}
	}
	return out
}

func (s *Store) applyLocked(symbol string, delta float64) (float64, bool) {
	p, ok := s.prices[symbol]
	if !ok {
		return 0, false
	}
	p += delta
	if s.floorEnabled && p < s.floor {
		p = s.floor
	}
	s.prices[symbol] = p
	return p, true
}
