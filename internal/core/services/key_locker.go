package services

import (
	"sort"
	"sync"
)

// keyLocker hands out one mutex per key. Entries are dropped once no caller
// holds or waits on them. A disabled locker never blocks.
type keyLocker struct {
	enabled bool
	mu      sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocker(enabled bool) *keyLocker {
	return &keyLocker{enabled: enabled, locks: make(map[string]*keyLock)}
}

// lock acquires every key in sorted order and returns the release func.
func (k *keyLocker) lock(keys ...string) func() {
	if !k.enabled || len(keys) == 0 {
		return func() {}
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	k.mu.Lock()
	acquired := make([]*keyLock, 0, len(sorted))
	names := make([]string, 0, len(sorted))
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		l := k.locks[key]
		if l == nil {
			l = &keyLock{}
			k.locks[key] = l
		}
		l.refs++
		acquired = append(acquired, l)
		names = append(names, key)
	}
	k.mu.Unlock()

	for _, l := range acquired {
		l.Lock()
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
		k.mu.Lock()
		for i, l := range acquired {
			l.refs--
			if l.refs == 0 {
				delete(k.locks, names[i])
			}
		}
		k.mu.Unlock()
	}
}

func (k *keyLocker) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
