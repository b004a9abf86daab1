package group

import (
	"fmt"
	"sync"

	"github.com/equivariant-ml/geomconv/tensor"
)

// SymbolCache memoizes the Kronecker-delta and Levi-Civita tensors per
// dimension and order. Entries are append-only and deterministic, so the
// cache is safe for concurrent use; a miss race at worst recomputes the
// same value once.
type SymbolCache struct {
	mu     sync.RWMutex
	deltas map[[2]int]*tensor.Dense
	levis  map[int]*tensor.Dense
}

// NewSymbolCache returns an empty symbol cache.
func NewSymbolCache() *SymbolCache {
	return &SymbolCache{
		deltas: make(map[[2]int]*tensor.Dense),
		levis:  make(map[int]*tensor.Dense),
	}
}

// Symbols is the process-wide default cache.
var Symbols = NewSymbolCache()

// KroneckerDelta returns the rank-k Kronecker delta for dimension d from
// the default cache.
func KroneckerDelta(d, k int) *tensor.Dense { return Symbols.KroneckerDelta(d, k) }

// LeviCivita returns the rank-d Levi-Civita tensor for dimension d from the
// default cache.
func LeviCivita(d int) *tensor.Dense { return Symbols.LeviCivita(d) }

// KroneckerDelta returns the rank-k Kronecker delta tensor for dimension d:
// shape (d,)*k with a 1 wherever all k indices are equal. Requires d > 1
// and k > 1. Repeat calls return the same cached tensor; callers must not
// modify it.
func (c *SymbolCache) KroneckerDelta(d, k int) *tensor.Dense {
	if d <= 1 {
		panic(fmt.Sprintf("group: Kronecker delta requires dimension > 1, got %d", d))
	}
	if k <= 1 {
		panic(fmt.Sprintf("group: Kronecker delta requires order > 1, got %d", k))
	}

	key := [2]int{d, k}
	c.mu.RLock()
	sym, ok := c.deltas[key]
	c.mu.RUnlock()
	if ok {
		return sym
	}

	sym = tensor.Zeros(tensor.Repeat(d, k))
	idx := make([]int, k)
	for i := 0; i < d; i++ {
		for j := range idx {
			idx[j] = i
		}
		sym.Set(1, idx...)
	}

	c.mu.Lock()
	if existing, ok := c.deltas[key]; ok {
		sym = existing
	} else {
		c.deltas[key] = sym
	}
	c.mu.Unlock()
	return sym
}

// LeviCivita returns the totally antisymmetric rank-d tensor for dimension
// d: each entry is the parity of its index sequence (0 on repeats).
// Requires d > 1. Repeat calls return the same cached tensor; callers must
// not modify it.
func (c *SymbolCache) LeviCivita(d int) *tensor.Dense {
	if d <= 1 {
		panic(fmt.Sprintf("group: Levi-Civita requires dimension > 1, got %d", d))
	}

	c.mu.RLock()
	sym, ok := c.levis[d]
	c.mu.RUnlock()
	if ok {
		return sym
	}

	shape := tensor.Repeat(d, d)
	sym = tensor.Zeros(shape)
	for _, idx := range shape.Indices() {
		sym.Set(float64(PermutationParity(idx)), idx...)
	}

	c.mu.Lock()
	if existing, ok := c.levis[d]; ok {
		sym = existing
	} else {
		c.levis[d] = sym
	}
	c.mu.Unlock()
	return sym
}
