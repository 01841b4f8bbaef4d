package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/internal/models"
)

// ConnEmitter writes events to a gorilla websocket connection. Writes are
// serialized because the typing timer emits from its own goroutine.
type ConnEmitter struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	writeWait time.Duration
}

func NewConnEmitter(conn *websocket.Conn) *ConnEmitter {
	return &ConnEmitter{conn: conn, writeWait: 10 * time.Second}
}

func (e *ConnEmitter) Emit(event models.InboundEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.conn.SetWriteDeadline(time.Now().Add(e.writeWait)); err != nil {
		return err
	}
	return e.conn.WriteJSON(event)
}

// CloseNormal sends a normal-closure frame under the same write lock.
func (e *ConnEmitter) CloseNormal() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return e.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(e.writeWait))
}
