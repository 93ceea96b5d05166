package txn

import "sync"

// IDGenerator issues monotonically increasing transaction ids starting at a
// seed value, mirroring the original's `IdGenerator<short> idg{seed}`
// (IdGeneratorTest.cpp: seed 0 yields 0, 1, 2, …; seed 10 yields 10, 11, 12).
type IDGenerator struct {
	mu   sync.Mutex
	next int16
}

// NewIDGenerator builds a generator whose first GetID call returns seed.
func NewIDGenerator(seed int16) *IDGenerator {
	return &IDGenerator{next: seed}
}

// GetID returns the next id in sequence.
func (g *IDGenerator) GetID() int16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}
