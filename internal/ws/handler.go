package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"chat-relay/internal/identity"
	"chat-relay/internal/middleware"
	"chat-relay/internal/observability"
	"chat-relay/internal/relay"
)

// Options tunes the websocket transport.
type Options struct {
	SendBufferSize int
	MaxMessageSize int64
	AllowedOrigins []string
}

// Handler upgrades HTTP requests and runs one relay peer per connection.
type Handler struct {
	engine   *relay.Engine
	provider identity.Provider
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

func NewHandler(engine *relay.Engine, provider identity.Provider, opts Options, log zerolog.Logger) *Handler {
	log = log.With().Str("component", "ws").Logger()
	return &Handler{
		engine:   engine,
		provider: provider,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins, log),
		},
		opts:    opts,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
}

// Handle verifies the handshake token, upgrades, and serves the connection
// until it closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")

	verified, err := h.provider.Verify(ctx, middleware.TokenFromRequest(c.Request))
	if err != nil {
		span.End()
		observability.IncWSEvent("ws_rejected")
		h.log.Debug().Err(err).Str("ip", observability.IPFromRequest(c.Request)).Msg("handshake rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Debug().Err(err).Msg("upgrade failed")
		return
	}

	traceID := ""
	if sc := span.SpanContext(); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	span.End()

	info := ConnInfo{
		ConnID:      newConnID(),
		Verified:    verified,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info, h.opts.SendBufferSize, h.log)
	peer := h.engine.Attach(client, verified, info.RequestID)
	h.track(client)

	connCtx := context.WithoutCancel(ctx)
	observability.IncWSActive()
	publishLifecycle(connCtx, info, verified, "ws_connect", "")
	h.log.Info().Str("conn_id", info.ConnID).Str("ip", info.IP).Str("verified", verified).Msg("websocket connected")

	go client.writePump()
	reason, unexpected := client.readPump(connCtx, h.engine, peer, h.opts.MaxMessageSize)

	h.engine.Disconnect(peer)
	client.close(websocket.CloseNormalClosure, "")
	<-client.writerDone
	h.untrack(client)

	observability.DecWSActive()
	if client.evicted() {
		reason, unexpected = "slow consumer", false
		publishLifecycle(connCtx, info, peer.Identity(), "ws_evicted", reason)
	}
	if unexpected {
		publishLifecycle(connCtx, info, peer.Identity(), "ws_error", reason)
	}
	publishLifecycle(connCtx, info, peer.Identity(), "ws_disconnect", reason)
	h.log.Info().
		Str("conn_id", info.ConnID).
		Str("identity", peer.Identity()).
		Str("reason", reason).
		Dur("duration", time.Since(info.ConnectedAt)).
		Msg("websocket disconnected")
}

// CloseAll asks every open connection to go away. Handle returns for each
// of them once its read loop sees the close.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// Active returns the number of open connections.
func (h *Handler) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Handler) track(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

func (h *Handler) untrack(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, client)
}
