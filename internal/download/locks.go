package download

import (
	"strings"
	"sync"
)

// nameLocks serializes acquires that resolve to the same filename
// (case-insensitively). Entries are dropped once nobody holds or waits on them.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

func (n *nameLocks) ref(key string) *nameLock {
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.locks[key]
	if !ok {
		l = &nameLock{}
		n.locks[key] = l
	}
	l.refs++
	return l
}

func (n *nameLocks) unref(key string, l *nameLock) {
	n.mu.Lock()
	defer n.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(n.locks, key)
	}
}

// Lock blocks until name is free and returns the release func.
func (n *nameLocks) Lock(name string) func() {
	key := strings.ToLower(name)
	l := n.ref(key)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		n.unref(key, l)
	}
}

// TryLock claims name without waiting.
func (n *nameLocks) TryLock(name string) (func(), bool) {
	key := strings.ToLower(name)
	l := n.ref(key)
	if !l.mu.TryLock() {
		n.unref(key, l)
		return nil, false
	}
	return func() {
		l.mu.Unlock()
		n.unref(key, l)
	}, true
}

// Held reports how many names are currently tracked.
func (n *nameLocks) Held() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.locks)
}
