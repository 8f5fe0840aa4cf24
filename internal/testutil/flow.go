package testutil

import (
	"fmt"
	"sync"
)

// SequentialTxIDs generates "<prefix>-0001", "<prefix>-0002", ... transaction ids.
//
// This keeps transaction ids reproducible across runs so tests can assert
// on them. Unlike engine.FixedGenerator it never runs out.
//
// Thread-safety: SequentialTxIDs is safe for concurrent use via internal mutex.
type SequentialTxIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTxIDs creates a generator. If prefix is empty, "tx" is used.
func NewSequentialTxIDs(prefix string) *SequentialTxIDs {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequentialTxIDs{prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.TxIDGenerator interface.
func (g *SequentialTxIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequentialTxIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
