// Package regionize contains fixtures for the structuring analyzer.
package regionize

import "sync"

// abs structures into a single if.
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// sum structures into a counting for loop.
func sum(xs []int, n int) int {
	total := 0
	for i := 0; i < n; i++ {
		total += xs[i]
	}
	return total
}

// name structures into a switch.
func name(n int) string {
	switch n {
	case 1:
		return "one"
	case 2:
		return "two"
	case 3:
		return "three"
	}
	return "many"
}

type counter struct {
	mu sync.Mutex
	n  int
}

// incr releases its lock on the only path and becomes a synchronized block.
func (c *counter) incr() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

// lookup releases its lock before returning.
func lookup(mu *sync.Mutex, m map[string]int, k string) int {
	mu.Lock()
	v := m[k]
	mu.Unlock()
	return v
}

// deferred holds the lock until the deferred release runs.
func deferred(mu *sync.Mutex, n int) int {
	mu.Lock()
	defer mu.Unlock()
	if n < 0 {
		return 0
	}
	return n * 2
}
