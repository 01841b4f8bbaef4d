package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/relay"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one websocket connection. The relay engine sees it as a
// relay.Conn; frames handed to Send are written by writePump in order.
type Client struct {
	conn *websocket.Conn
	info ConnInfo
	send chan []byte
	log  zerolog.Logger

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeText  string
}

func newClient(conn *websocket.Conn, info ConnInfo, bufferSize int, log zerolog.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Client{
		conn:       conn,
		info:       info,
		send:       make(chan []byte, bufferSize),
		log:        log.With().Str("conn_id", info.ConnID).Logger(),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.info.ConnID
}

// Send queues payload without blocking. A client whose queue is full is
// evicted; it would otherwise stall every broadcast it is part of. Send runs
// under relay locks, so it never publishes; Handle reports the eviction.
func (c *Client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn().Int("buffered", len(c.send)).Msg("send buffer full, evicting slow client")
		c.close(websocket.CloseTryAgainLater, "slow consumer")
		return false
	}
}

// close stops the writer, which sends a close frame with code and text.
func (c *Client) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		close(c.done)
	})
}

// evicted reports whether Send dropped the client. Call it only after close,
// which orders it after the eviction.
func (c *Client) evicted() bool {
	return c.closeCode == websocket.CloseTryAgainLater
}

// readPump feeds inbound events to the engine one at a time until the
// connection fails. It returns the close reason and whether it was unexpected.
func (c *Client) readPump(ctx context.Context, engine *relay.Engine, peer *relay.Peer, maxMessageSize int64) (string, bool) {
	if maxMessageSize > 0 {
		c.conn.SetReadLimit(maxMessageSize)
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err.Error(), true
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			reason, unexpected := classifyReadError(err)
			if unexpected {
				c.log.Warn().Err(err).Msg("websocket read failed")
			} else {
				c.log.Debug().Str("reason", reason).Msg("websocket closed")
			}
			return reason, unexpected
		}

		var event models.InboundEvent
		if err := json.Unmarshal(raw, &event); err != nil || event.Type == "" {
			observability.IncRelayEvent("malformed", "dropped")
			c.log.Debug().Int("size", len(raw)).Msg("malformed frame dropped")
			continue
		}
		_ = engine.Handle(ctx, peer, event)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.log.Warn().Err(err).Msg("websocket write failed")
				c.close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				c.close(websocket.CloseGoingAway, "ping failed")
				return
			}
		case <-c.done:
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
