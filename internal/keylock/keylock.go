// Package keylock provides per-key mutual exclusion within one process.
package keylock

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out one lock per uuid. Entries are dropped once nobody holds
// or waits for them.
type Locker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*entry
}

func New() *Locker {
	return &Locker{locks: make(map[uuid.UUID]*entry)}
}

// Lock blocks until key is free or ctx ends. The returned func releases it.
func (l *Locker) Lock(ctx context.Context, key uuid.UUID) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(key, e, true) }) }, nil
}

// LockAll takes the locks for keys in a fixed order so that two callers
// locking overlapping sets cannot deadlock. Duplicates are ignored.
func (l *Locker) LockAll(ctx context.Context, keys []uuid.UUID) (func(), error) {
	sorted := SortedUnique(keys)
	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range sorted {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (l *Locker) release(key uuid.UUID, e *entry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// SortedUnique returns keys without duplicates in byte order.
func SortedUnique(keys []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(keys))
	out := make([]uuid.UUID, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
