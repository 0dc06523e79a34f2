package regionize

import "sync"

// jumpIntoLoop enters its loop at two places.
func jumpIntoLoop(n int) int { // want "irreducible control flow"
	i := 0
	if n > 10 {
		goto inner
	}
loop:
	i++
inner:
	i += 2
	if i < n {
		goto loop
	}
	return i
}

// leaky returns while still holding the lock.
func leaky(mu *sync.Mutex, ok bool) int { // want "not released on every path"
	mu.Lock()
	if ok {
		mu.Unlock()
		return 1
	}
	return 0
}
