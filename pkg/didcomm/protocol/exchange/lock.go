/*
Copyright Aether Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package exchange

import "sync"

// threadLocks serializes transitions per thread id. Entries are reference
// counted and removed once the last holder unlocks, so the map does not grow
// with the number of threads ever seen.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

// Lock acquires the lock for the given thread id and returns the unlock
// function.
func (l *threadLocks) Lock(threadID string) func() {
	l.mu.Lock()

	entry, ok := l.locks[threadID]
	if !ok {
		entry = &threadLock{}
		l.locks[threadID] = entry
	}

	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--

		if entry.refs == 0 {
			delete(l.locks, threadID)
		}
		l.mu.Unlock()
	}
}
