package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceLatestRegistrationWins(t *testing.T) {
	p := NewPresence()
	first, second := newFakeConn("c1"), newFakeConn("c2")

	p.Register("bob", first)
	p.Register("bob", second)

	conn, ok := p.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, second, conn)
	assert.Equal(t, 1, p.Online())

	p.Unregister(first)
	conn, ok = p.Lookup("bob")
	require.True(t, ok, "stale connection must not remove the newer binding")
	assert.Same(t, second, conn)

	p.Unregister(second)
	_, ok = p.Lookup("bob")
	assert.False(t, ok)
	assert.Zero(t, p.Online())
}

func TestPresenceReRegisterUnderNewIdentity(t *testing.T) {
	p := NewPresence()
	conn := newFakeConn("c1")

	p.Register("alice", conn)
	p.Register("alicia", conn)

	_, ok := p.Lookup("alice")
	assert.False(t, ok)
	got, ok := p.Lookup("alicia")
	require.True(t, ok)
	assert.Same(t, conn, got)

	p.Unregister(conn)
	assert.Zero(t, p.Online())
}

func TestPresenceUnregisterUnknownConn(t *testing.T) {
	p := NewPresence()
	p.Register("alice", newFakeConn("c1"))

	p.Unregister(newFakeConn("c2"))

	assert.Equal(t, 1, p.Online())
}
