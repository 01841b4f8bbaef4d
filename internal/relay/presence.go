package relay

import "sync"

// Presence maps a user identity to the connection currently reachable for it.
// The latest registration for an identity wins; the superseded connection is
// left running but is no longer addressable.
type Presence struct {
	mu         sync.Mutex
	byIdentity map[string]Conn
	byConn     map[Conn]string
}

// NewPresence creates an empty registry.
func NewPresence() *Presence {
	return &Presence{
		byIdentity: make(map[string]Conn),
		byConn:     make(map[Conn]string),
	}
}

// Register binds identity to conn, overwriting any previous binding.
func (p *Presence) Register(identity string, conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if previous, ok := p.byConn[conn]; ok && previous != identity {
		if p.byIdentity[previous] == conn {
			delete(p.byIdentity, previous)
		}
	}
	p.byIdentity[identity] = conn
	p.byConn[conn] = identity
}

// Lookup returns the connection bound to identity. Absence means offline.
func (p *Presence) Lookup(identity string) (Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.byIdentity[identity]
	return conn, ok
}

// Unregister drops the binding owned by conn. A binding that has since been
// taken over by a newer connection is left alone.
func (p *Presence) Unregister(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	identity, ok := p.byConn[conn]
	if !ok {
		return
	}
	delete(p.byConn, conn)
	if p.byIdentity[identity] == conn {
		delete(p.byIdentity, identity)
	}
}

// Online returns the number of reachable identities.
func (p *Presence) Online() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byIdentity)
}
