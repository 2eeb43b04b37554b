package state

import "sync"

// LockRegistry hands out one mutex per key, created on first use.
type LockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{locks: map[string]*sync.Mutex{}}
}

// Get returns the mutex of key. Concurrent callers with the same key always get the same mutex.
func (x *LockRegistry) Get(key string) *sync.Mutex {
	x.mu.Lock()
	defer x.mu.Unlock()

	m, ok := x.locks[key]
	if !ok {
		m = &sync.Mutex{}
		x.locks[key] = m
	}
	return m
}
