// Code generated by hand for tests. DO NOT EDIT.

package generated

import "sync"

func leaky(mu *sync.Mutex, ok bool) int {
	mu.Lock()
	if ok {
		mu.Unlock()
		return 1
	}
	return 0
}
