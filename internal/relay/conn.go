package relay

// Conn is the handle the engine routes outbound frames to. Implementations
// must be comparable (pointer types) and safe for concurrent Send calls.
type Conn interface {
	ID() string
	// Send queues an encoded frame; false means the connection is gone or
	// could not keep up and the frame was dropped.
	Send(payload []byte) bool
}
