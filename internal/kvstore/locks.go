package kvstore

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const numLockShards = 64

// keyLocks hands out one mutex per key. Entries live only while a caller
// holds or waits on them. The key map is split into shards chosen by
// hashing the key; a shard's mutex only guards its map, never the key lock.
type keyLocks struct {
	shards [numLockShards]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is free and returns the matching unlock.
func (l *keyLocks) lock(key string) (unlock func()) {
	sh := &l.shards[xxhash.Sum64String(key)%numLockShards]

	sh.mu.Lock()
	if sh.locks == nil {
		sh.locks = make(map[string]*keyLock)
	}
	kl, ok := sh.locks[key]
	if !ok {
		kl = &keyLock{}
		sh.locks[key] = kl
	}
	kl.refs++
	sh.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		sh.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(sh.locks, key)
		}
		sh.mu.Unlock()
	}
}

// live counts keys currently held or waited on.
func (l *keyLocks) live() int {
	n := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		n += len(sh.locks)
		sh.mu.Unlock()
	}
	return n
}
