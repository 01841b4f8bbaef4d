package ws

import "time"

// ConnInfo describes one websocket connection for logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	Verified    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
