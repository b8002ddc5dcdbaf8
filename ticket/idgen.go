package ticket

import (
	"fmt"
	"sync"
)

// IDGenerator produces sequential, zero-padded fix-ticket ids
// (FIX-0001, FIX-0002, ...). Safe for concurrent use.
type IDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewIDGenerator creates a generator with the given prefix. An empty
// prefix defaults to "FIX".
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "FIX"
	}
	return &IDGenerator{prefix: prefix, next: 1}
}

// Next returns the next id in sequence.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := fmt.Sprintf("%s-%04d", g.prefix, g.next)
	g.next++
	return id
}

// Reset restarts the sequence at 1.
func (g *IDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next = 1
}
