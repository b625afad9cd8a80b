package holdings

import (
	"context"
	"sort"
	"sync"
)

// keyLocks is a set of named mutexes that can be waited on with a context.
// Entries exist only while someone holds or waits for them.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (k *keyLocks) ref(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// acquire takes every key in sorted order and returns a func that releases
// them all. On ctx expiry nothing stays held.
func (k *keyLocks) acquire(ctx context.Context, keys []string) (func(), error) {
	keys = append([]string(nil), keys...)
	sort.Strings(keys)

	held := make([]*keyLock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
			k.unref(keys[i], held[i])
		}
	}
	for _, key := range keys {
		l := k.ref(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, l)
		case <-ctx.Done():
			k.unref(key, l)
			release()
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}
