package regionize

import "sync"

// Function-level ignore suppresses the report.
//
//regionize:ignore
func ignoredLeak(mu *sync.Mutex, ok bool) int {
	mu.Lock()
	if ok {
		mu.Unlock()
		return 1
	}
	return 0
}

func sameLineIgnore(mu *sync.Mutex) { //regionize:ignore
	mu.Lock()
}

func unusedIgnore() int {
	//regionize:ignore // want "unused regionize:ignore directive"
	return 1
}
