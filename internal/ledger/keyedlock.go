package ledger

import (
	"context"
	"sync"
)

// keyedLock hands out one exclusive lock per key. Entries are reference counted
// and dropped once nobody holds or waits for them.
type keyedLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[string]*lockEntry)}
}

func (k *keyedLock) ref(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *keyedLock) unref(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

// acquire blocks until the key's lock is held or ctx is done.
func (k *keyedLock) acquire(ctx context.Context, key string) (func(), error) {
	e := k.ref(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.unref(key, e)
		})
	}, nil
}

// lock is acquire without cancellation.
func (k *keyedLock) lock(key string) func() {
	release, _ := k.acquire(context.Background(), key)
	return release
}

// size reports the number of live entries.
func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
