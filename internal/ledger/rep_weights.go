package ledger

import (
	"sync"

	"github.com/stjet/gobanano/internal/core"
)

// RepWeights is the in-memory representative weight cache:
// weights[r] = sum of balances of accounts delegating to r. It is eventually
// consistent with the store and updated with wrapping arithmetic: batched
// rollbacks may drive an entry transiently through a wrapped negative value,
// which cancels out once all events apply.
type RepWeights struct {
	mu      sync.RWMutex
	weights map[core.Account]core.Amount
}

// NewRepWeights creates an empty cache.
func NewRepWeights() *RepWeights {
	return &RepWeights{weights: make(map[core.Account]core.Amount)}
}

// Add adjusts one representative's weight by amount, wrapping.
func (r *RepWeights) Add(rep core.Account, amount core.Amount) {
	if rep.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(rep, amount)
}

// AddDual applies two adjustments atomically with respect to readers:
// typically +delta to the new representative and a wrapped -delta to the old
// one.
func (r *RepWeights) AddDual(rep1 core.Account, amount1 core.Amount, rep2 core.Account, amount2 core.Amount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !rep1.IsZero() {
		r.addLocked(rep1, amount1)
	}
	if !rep2.IsZero() {
		r.addLocked(rep2, amount2)
	}
}

func (r *RepWeights) addLocked(rep core.Account, amount core.Amount) {
	next := r.weights[rep].WrappingAdd(amount)
	if next.IsZero() {
		delete(r.weights, rep)
		return
	}
	r.weights[rep] = next
}

// Weight returns the cached voting weight of a representative.
func (r *RepWeights) Weight(rep core.Account) core.Amount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights[rep]
}

// Len returns the number of representatives with nonzero weight.
func (r *RepWeights) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.weights)
}

// Snapshot copies the current weight table.
func (r *RepWeights) Snapshot() map[core.Account]core.Amount {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[core.Account]core.Amount, len(r.weights))
	for rep, weight := range r.weights {
		out[rep] = weight
	}
	return out
}
