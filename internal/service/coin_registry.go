package service

import (
	"sort"
	"strings"
	"sync"
)

// CoinRegistry is the process-wide set of symbols claimed by running bots.
// A symbol is held by at most one bot at a time.
type CoinRegistry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func NewCoinRegistry() *CoinRegistry {
	return &CoinRegistry{active: make(map[string]struct{})}
}

// Register claims symbol. It returns false when another bot already holds it.
func (r *CoinRegistry) Register(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[symbol]; ok {
		return false
	}
	r.active[symbol] = struct{}{}
	return true
}

// Unregister releases symbol
func (r *CoinRegistry) Unregister(symbol string) {
	r.mu.Lock()
	delete(r.active, strings.ToUpper(symbol))
	r.mu.Unlock()
}

// IsActive reports whether symbol is claimed
func (r *CoinRegistry) IsActive(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[strings.ToUpper(symbol)]
	return ok
}

// Snapshot returns the claimed symbols, sorted
func (r *CoinRegistry) Snapshot() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.active))
	for s := range r.active {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}
