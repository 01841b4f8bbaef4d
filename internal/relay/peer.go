package relay

// PeerState is the registration state of a connection.
type PeerState int

const (
	Unregistered PeerState = iota
	Registered
	Closed
)

func (s PeerState) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Peer is the relay-side state of one connection. It is owned by that
// connection's read loop and must not be shared between goroutines.
type Peer struct {
	conn      Conn
	verified  string
	identity  string
	state     PeerState
	requestID string
}

// Conn returns the connection handle the peer routes to.
func (p *Peer) Conn() Conn {
	return p.conn
}

// Identity returns the registered identity, or "" before registration.
func (p *Peer) Identity() string {
	return p.identity
}

func (p *Peer) State() PeerState {
	return p.state
}

// RequestID is the id of the handshake request that opened the connection.
func (p *Peer) RequestID() string {
	return p.requestID
}
