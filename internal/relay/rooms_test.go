package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoomsJoinAndLeaveAreIdempotent(t *testing.T) {
	r := NewRooms()
	alice, bob := newFakeConn("a"), newFakeConn("b")

	r.Join(alice, "general")
	r.Join(alice, "general")
	r.Join(bob, "general")
	assert.Len(t, r.MembersOf("general"), 2)

	r.Leave(alice, "general")
	r.Leave(alice, "general")
	r.Leave(alice, "never-joined")
	assert.Equal(t, []Conn{bob}, r.MembersOf("general"))
	assert.Empty(t, r.RoomsOf(alice))
}

func TestRoomsRemoveConn(t *testing.T) {
	r := NewRooms()
	alice, bob := newFakeConn("a"), newFakeConn("b")
	r.Join(alice, "general")
	r.Join(alice, "random")
	r.Join(bob, "random")

	left := r.RemoveConn(alice)

	assert.ElementsMatch(t, []string{"general", "random"}, left)
	assert.Empty(t, r.MembersOf("general"))
	assert.Equal(t, []Conn{bob}, r.MembersOf("random"))
	assert.Empty(t, r.RemoveConn(alice))
}

func TestRoomsMembersOfIsSnapshot(t *testing.T) {
	r := NewRooms()
	alice := newFakeConn("a")
	r.Join(alice, "general")

	members := r.MembersOf("general")
	r.Leave(alice, "general")

	assert.Len(t, members, 1)
	assert.NotNil(t, r.MembersOf("unknown"))
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(roomLockKey("general"))

	acquired := make(chan struct{})
	go func() {
		release := k.Lock(roomLockKey("general"))
		close(acquired)
		release()
	}()

	other := k.Lock(roomLockKey("random"))
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired

	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}

func TestPairLockKeyIsUnordered(t *testing.T) {
	assert.Equal(t, pairLockKey("alice", "bob"), pairLockKey("bob", "alice"))
	assert.NotEqual(t, pairLockKey("a", "bc"), pairLockKey("ab", "c"))
}

func TestKeyedMutexConcurrentUse(t *testing.T) {
	k := newKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(pairLockKey("alice", "bob"))
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
