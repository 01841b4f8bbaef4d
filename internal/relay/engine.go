package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"chat-relay/internal/models"
	"chat-relay/internal/observability"
	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

// DefaultPublishTimeout applies when WithPublishTimeout is not given.
const DefaultPublishTimeout = 2 * time.Second

// Engine routes inbound events to the message store and to the connections
// that should see them. Presence and room membership are owned here.
type Engine struct {
	store          repositories.MessageStore
	presence       *Presence
	rooms          *Rooms
	locks          *keyedMutex
	audit          *telemetry.AuditEmitter
	storeTimeout   time.Duration
	publishTimeout time.Duration
	tracer         trace.Tracer
	log            zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithStoreTimeout bounds every message store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// WithPublishTimeout bounds every AMQP publish made on behalf of an event.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Engine) { e.publishTimeout = d }
}

// WithAudit emits audit records for storage failures.
func WithAudit(audit *telemetry.AuditEmitter) Option {
	return func(e *Engine) { e.audit = audit }
}

// NewEngine builds an engine over store.
func NewEngine(store repositories.MessageStore, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		presence:       NewPresence(),
		rooms:          NewRooms(),
		locks:          newKeyedMutex(),
		publishTimeout: DefaultPublishTimeout,
		tracer:         otel.Tracer("chat-relay/relay"),
		log:            log.With().Str("component", "relay").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Attach creates the relay state for a new connection. verified is the
// identity proven during the handshake, or "" when none was required.
func (e *Engine) Attach(conn Conn, verified, requestID string) *Peer {
	return &Peer{conn: conn, verified: verified, requestID: requestID, state: Unregistered}
}

// Online reports whether identity currently has a reachable connection.
func (e *Engine) Online(identity string) bool {
	_, ok := e.presence.Lookup(identity)
	return ok
}

// Handle decodes one inbound event and applies it. The returned error is for
// logging and metrics only; nothing is sent back to the client on failure.
func (e *Engine) Handle(ctx context.Context, peer *Peer, event models.InboundEvent) error {
	ctx, span := e.tracer.Start(ctx, "relay."+event.Type, trace.WithAttributes(
		attribute.String("relay.conn_id", peer.conn.ID()),
		attribute.String("relay.identity", peer.identity),
	))
	defer span.End()

	err := e.dispatch(ctx, peer, event)
	outcome := outcomeOf(err)
	observability.IncRelayEvent(event.Type, outcome)

	switch outcome {
	case "ok":
	case "dropped":
		e.log.Debug().Err(err).Str("event", event.Type).Str("conn_id", peer.conn.ID()).Msg("event dropped")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Error().Err(err).Str("event", event.Type).Str("conn_id", peer.conn.ID()).Str("identity", peer.identity).Msg("event failed")
	}
	return err
}

func (e *Engine) dispatch(ctx context.Context, peer *Peer, event models.InboundEvent) error {
	if peer.state == Closed {
		return ErrPeerClosed
	}
	switch event.Type {
	case models.EventRegister:
		var p models.RegisterPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return e.Register(peer, p)
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return e.JoinRoom(ctx, peer, p)
	case models.EventLeaveRoom:
		var p models.LeaveRoomPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		e.LeaveRoom(peer, p)
		return nil
	case models.EventGroupSend:
		var p models.GroupSendPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return e.SendGroup(ctx, peer, p)
	case models.EventDirectSend:
		var p models.DirectSendPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return e.SendDirect(ctx, peer, p)
	case models.EventDirectHistory:
		var p models.DirectHistoryPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return e.DirectHistory(ctx, peer, p)
	case models.EventTyping:
		var p models.TypingPayload
		if err := decode(event, &p); err != nil {
			return err
		}
		return e.Typing(peer, p)
	default:
		return ErrUnknownEvent
	}
}

// Register binds the peer's connection to identity. A later registration of
// the same identity elsewhere takes over direct routing.
func (e *Engine) Register(peer *Peer, p models.RegisterPayload) error {
	if peer.verified != "" && p.Identity != peer.verified {
		return ErrIdentityMismatch
	}
	e.presence.Register(p.Identity, peer.conn)
	peer.identity = p.Identity
	peer.state = Registered
	observability.SetPresenceOnline(e.presence.Online())
	e.log.Info().Str("identity", p.Identity).Str("conn_id", peer.conn.ID()).Msg("registered")
	return nil
}

// JoinRoom adds the peer to the room and replies with the room history.
func (e *Engine) JoinRoom(ctx context.Context, peer *Peer, p models.JoinRoomPayload) error {
	if err := e.requireIdentity(peer, p.Identity); err != nil {
		return err
	}
	if err := e.joinWithHistory(ctx, peer, p.Room); err != nil {
		return e.reportFailure(ctx, peer, err)
	}
	return nil
}

// joinWithHistory holds the room lock so a concurrent send cannot show up
// both in the history reply and as a live broadcast.
func (e *Engine) joinWithHistory(ctx context.Context, peer *Peer, room string) error {
	unlock := e.locks.Lock(roomLockKey(room))
	defer unlock()

	e.rooms.Join(peer.conn, room)
	history, err := e.listRoomHistory(ctx, room)
	if err != nil {
		return storageError(repositories.OpListRoom, err)
	}
	return e.sendTo(peer.conn, models.EventRoomHistory, history)
}

// LeaveRoom removes the peer from the room. There is no reply.
func (e *Engine) LeaveRoom(peer *Peer, p models.LeaveRoomPayload) {
	e.rooms.Leave(peer.conn, p.Room)
}

// SendGroup persists a room message and broadcasts it to the room, sender included.
func (e *Engine) SendGroup(ctx context.Context, peer *Peer, p models.GroupSendPayload) error {
	if err := e.requireIdentity(peer, p.Sender); err != nil {
		return err
	}

	msg, err := e.appendAndBroadcast(ctx, p)
	if err != nil {
		return e.reportFailure(ctx, peer, err)
	}
	e.publish(ctx, peer, observability.RoutingGroupMessage, "group_message", msg)
	return nil
}

// appendAndBroadcast holds the room lock across append and fan-out, which
// keeps broadcast order equal to history order. Only store calls block here.
func (e *Engine) appendAndBroadcast(ctx context.Context, p models.GroupSendPayload) (models.GroupMessage, error) {
	unlock := e.locks.Lock(roomLockKey(p.Room))
	defer unlock()

	msg, err := e.appendGroupMessage(ctx, p.Sender, p.Room, p.Body)
	if err != nil {
		return msg, storageError(repositories.OpAppendGroup, err)
	}
	frame, err := encode(models.EventGroupMessage, msg)
	if err != nil {
		return msg, err
	}
	for _, member := range e.rooms.MembersOf(p.Room) {
		member.Send(frame)
	}
	return msg, nil
}

// SendDirect persists a direct message, echoes it to the sending connection
// and delivers it to the recipient when online. Offline recipients read it
// from history later.
func (e *Engine) SendDirect(ctx context.Context, peer *Peer, p models.DirectSendPayload) error {
	if err := e.requireIdentity(peer, p.Sender); err != nil {
		return err
	}

	msg, err := e.appendAndDeliver(ctx, peer, p)
	if err != nil {
		return e.reportFailure(ctx, peer, err)
	}
	e.publish(ctx, peer, observability.RoutingDirectMessage, "direct_message", msg)
	return nil
}

func (e *Engine) appendAndDeliver(ctx context.Context, peer *Peer, p models.DirectSendPayload) (models.DirectMessage, error) {
	unlock := e.locks.Lock(pairLockKey(p.Sender, p.Recipient))
	defer unlock()

	msg, err := e.appendDirectMessage(ctx, p.Sender, p.Recipient, p.Body)
	if err != nil {
		return msg, storageError(repositories.OpAppendDirect, err)
	}
	frame, err := encode(models.EventPrivateMessage, msg)
	if err != nil {
		return msg, err
	}
	peer.conn.Send(frame)
	if recipient, ok := e.presence.Lookup(p.Recipient); ok && recipient != peer.conn {
		recipient.Send(frame)
	}
	return msg, nil
}

// DirectHistory replies with the conversation between requester and peer.
func (e *Engine) DirectHistory(ctx context.Context, peer *Peer, p models.DirectHistoryPayload) error {
	if err := e.requireIdentity(peer, p.Requester); err != nil {
		return err
	}

	if err := e.replyDirectHistory(ctx, peer, p); err != nil {
		return e.reportFailure(ctx, peer, err)
	}
	return nil
}

func (e *Engine) replyDirectHistory(ctx context.Context, peer *Peer, p models.DirectHistoryPayload) error {
	unlock := e.locks.Lock(pairLockKey(p.Requester, p.Peer))
	defer unlock()

	history, err := e.listDirectHistory(ctx, p.Requester, p.Peer)
	if err != nil {
		return storageError(repositories.OpListDirect, err)
	}
	return e.sendTo(peer.conn, models.EventPrivateHistory, models.PrivateHistory{Peer: p.Peer, Messages: history})
}

// Typing forwards a typing hint to the recipient if online. Nothing is stored.
func (e *Engine) Typing(peer *Peer, p models.TypingPayload) error {
	if err := e.requireIdentity(peer, p.Sender); err != nil {
		return err
	}
	recipient, ok := e.presence.Lookup(p.Recipient)
	if !ok {
		return nil
	}
	return e.sendTo(recipient, models.EventTyping, models.TypingSignal{Sender: p.Sender, IsTyping: bool(p.IsTyping)})
}

// Disconnect releases the peer. Presence goes first so no new direct message
// is routed to a connection that is being torn down.
func (e *Engine) Disconnect(peer *Peer) {
	if peer.state == Closed {
		return
	}
	e.presence.Unregister(peer.conn)
	left := e.rooms.RemoveConn(peer.conn)
	peer.state = Closed
	observability.SetPresenceOnline(e.presence.Online())
	e.log.Info().
		Str("identity", peer.identity).
		Str("conn_id", peer.conn.ID()).
		Strs("rooms", left).
		Msg("disconnected")
}

func (e *Engine) requireIdentity(peer *Peer, claimed string) error {
	if peer.state != Registered {
		return ErrUnregistered
	}
	if claimed != "" && claimed != peer.identity {
		return ErrIdentityMismatch
	}
	return nil
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

func (e *Engine) appendGroupMessage(ctx context.Context, sender, room, body string) (models.GroupMessage, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	start := time.Now()
	msg, err := e.store.AppendGroupMessage(ctx, sender, room, body)
	observability.ObserveStoreOperation("append_group", time.Since(start))
	return msg, err
}

func (e *Engine) appendDirectMessage(ctx context.Context, sender, recipient, body string) (models.DirectMessage, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	start := time.Now()
	msg, err := e.store.AppendDirectMessage(ctx, sender, recipient, body)
	observability.ObserveStoreOperation("append_direct", time.Since(start))
	return msg, err
}

func (e *Engine) listRoomHistory(ctx context.Context, room string) ([]models.GroupMessage, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	start := time.Now()
	msgs, err := e.store.ListRoomHistory(ctx, room)
	observability.ObserveStoreOperation("list_room", time.Since(start))
	return msgs, err
}

func (e *Engine) listDirectHistory(ctx context.Context, userA, userB string) ([]models.DirectMessage, error) {
	ctx, cancel := e.storeContext(ctx)
	defer cancel()
	start := time.Now()
	msgs, err := e.store.ListDirectHistory(ctx, userA, userB)
	observability.ObserveStoreOperation("list_direct", time.Since(start))
	return msgs, err
}

// storageError classifies a failed store call. Validation errors pass
// through untouched; anything else becomes a StorageError.
func storageError(op string, err error) error {
	if repositories.IsValidationError(err) || repositories.IsStorageError(err) {
		return err
	}
	return &repositories.StorageError{Op: op, Err: err}
}

// reportFailure audits storage errors. It must run after the key lock is
// released because the audit goes out over AMQP.
func (e *Engine) reportFailure(ctx context.Context, peer *Peer, err error) error {
	var storeErr *repositories.StorageError
	if !errors.As(err, &storeErr) {
		return err
	}
	ctx, cancel := e.publishContext(ctx)
	defer cancel()
	identity := peer.identity
	e.audit.Emit(ctx, "ERROR", storeErr.AuditText(), peer.requestID, &identity)
	return err
}

func (e *Engine) publishContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.publishTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.publishTimeout)
}

// publish runs outside every key lock; a stalled broker delays only the
// connection that triggered the event, and never past publishTimeout.
func (e *Engine) publish(ctx context.Context, peer *Peer, routingKey, name string, payload any) {
	traceID := ""
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	headers := observability.BuildHeaders(peer.requestID, traceID)
	envelope := observability.NewEnvelope("relay_events", name, payload)

	ctx, cancel := e.publishContext(ctx)
	defer cancel()
	if err := observability.PublishEvent(ctx, routingKey, envelope, headers); err != nil {
		e.log.Warn().Err(err).Str("routing_key", routingKey).Msg("relay event publish failed")
	}
}

func (e *Engine) sendTo(conn Conn, eventType string, payload any) error {
	frame, err := encode(eventType, payload)
	if err != nil {
		return err
	}
	conn.Send(frame)
	return nil
}

func encode(eventType string, payload any) ([]byte, error) {
	return json.Marshal(models.OutboundEvent{Type: eventType, Payload: payload})
}

func decode(event models.InboundEvent, v any) error {
	if len(event.Payload) == 0 {
		return &repositories.ValidationError{Fields: []string{"payload"}}
	}
	if err := json.Unmarshal(event.Payload, v); err != nil {
		return &repositories.ValidationError{Fields: []string{"payload"}}
	}
	return repositories.ValidateStruct(v)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case repositories.IsValidationError(err),
		errors.Is(err, ErrUnregistered),
		errors.Is(err, ErrIdentityMismatch),
		errors.Is(err, ErrUnknownEvent),
		errors.Is(err, ErrPeerClosed):
		return "dropped"
	case repositories.IsStorageError(err):
		return "storage_error"
	default:
		return "error"
	}
}
