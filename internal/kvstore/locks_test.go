package kvstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
)

// sameShardConversations returns two conversations whose keys hash to the
// same lock shard.
func sameShardConversations(t *testing.T) (string, string) {
	t.Helper()
	a := "conv-a"
	want := xxhash.Sum64String(a) % numLockShards
	for i := 0; i < 100000; i++ {
		b := fmt.Sprintf("conv-b%d", i)
		if xxhash.Sum64String(b)%numLockShards == want {
			return a, b
		}
	}
	t.Fatal("no conversation shares a lock shard with conv-a")
	return "", ""
}

func TestKeyLocks_ReleasesEntries(t *testing.T) {
	var l keyLocks
	unlockA := l.lock("a")
	unlockB := l.lock("b")
	assert.Equal(t, 2, l.live())

	unlockA()
	unlockB()
	assert.Zero(t, l.live())
}

func TestKeyLocks_SameShardKeysIndependent(t *testing.T) {
	var l keyLocks
	a, b := sameShardConversations(t)

	unlockA := l.lock(a)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := l.lock(b)
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("lock(%q) waited on lock(%q)", b, a)
	}
}

func TestKeyLocks_SameKeySerializes(t *testing.T) {
	var l keyLocks
	unlock := l.lock("a")

	acquired := make(chan struct{})
	go func() {
		u := l.lock("a")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return l.live() == 0 }, time.Second, time.Millisecond)
}
