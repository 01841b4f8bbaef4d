// Package session holds the client side of a relay connection. It tracks
// the room or private peer in focus and debounces typing hints.
package session

import (
	"errors"
	"strings"
	"sync"
	"time"

	"chat-relay/internal/models"
)

// DefaultTypingIdle is how long input must be quiet before typing stops.
const DefaultTypingIdle = 800 * time.Millisecond

var (
	ErrNoFocus    = errors.New("join a room or open a private chat first")
	ErrNoRoom     = errors.New("not in any room")
	ErrEmptyRoom  = errors.New("room is required")
	ErrEmptyPeer  = errors.New("peer is required")
	ErrSelfDirect = errors.New("cannot open a private chat with yourself")
	ErrClosed     = errors.New("session closed")
)

// Emitter delivers inbound events to the relay.
type Emitter interface {
	Emit(event models.InboundEvent) error
}

type Option func(*Session)

// WithTypingIdle overrides DefaultTypingIdle.
func WithTypingIdle(d time.Duration) Option {
	return func(s *Session) { s.typingIdle = d }
}

// Session is safe for concurrent use; the typing timer fires on its own goroutine.
type Session struct {
	identity   string
	emitter    Emitter
	typingIdle time.Duration

	mu     sync.Mutex
	room   string
	peer   string
	closed bool

	typingTimer *time.Timer
	typingTo    string
	typingGen   uint64
}

func New(identity string, emitter Emitter, opts ...Option) *Session {
	s := &Session{identity: identity, emitter: emitter, typingIdle: DefaultTypingIdle}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Identity() string {
	return s.identity
}

// Room returns the focused room, or "".
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Peer returns the focused private peer, or "".
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Register announces the identity. Call it once the connection is up.
func (s *Session) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.emit(models.EventRegister, models.RegisterPayload{Identity: s.identity})
}

// JoinRoom focuses room, leaving the previous room if it differs. Any
// private focus is dropped.
func (s *Session) JoinRoom(room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrEmptyRoom
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.stopTypingLocked(); err != nil {
		return err
	}
	s.peer = ""
	if s.room != "" && s.room != room {
		if err := s.emit(models.EventLeaveRoom, models.LeaveRoomPayload{Room: s.room, Identity: s.identity}); err != nil {
			return err
		}
	}
	s.room = room
	return s.emit(models.EventJoinRoom, models.JoinRoomPayload{Room: room, Identity: s.identity})
}

func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.room == "" {
		return ErrNoRoom
	}

	room := s.room
	s.room = ""
	return s.emit(models.EventLeaveRoom, models.LeaveRoomPayload{Room: room, Identity: s.identity})
}

// OpenDirect focuses a private conversation with peer and asks for its history.
func (s *Session) OpenDirect(peer string) error {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return ErrEmptyPeer
	}
	if peer == s.identity {
		return ErrSelfDirect
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if err := s.stopTypingLocked(); err != nil {
		return err
	}
	if s.room != "" {
		if err := s.emit(models.EventLeaveRoom, models.LeaveRoomPayload{Room: s.room, Identity: s.identity}); err != nil {
			return err
		}
		s.room = ""
	}
	s.peer = peer
	return s.emit(models.EventDirectHistory, models.DirectHistoryPayload{Requester: s.identity, Peer: peer})
}

// Send posts body to the focused peer, or to the focused room when no peer
// is open. Blank input is ignored.
func (s *Session) Send(body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	switch {
	case s.peer != "":
		return s.emit(models.EventDirectSend, models.DirectSendPayload{Sender: s.identity, Recipient: s.peer, Body: body})
	case s.room != "":
		return s.emit(models.EventGroupSend, models.GroupSendPayload{Room: s.room, Sender: s.identity, Body: body})
	default:
		return ErrNoFocus
	}
}

// InputChanged reports a local keystroke. In private mode it emits
// typing=true and restarts the idle timer; typing=false follows once input
// has been quiet for the idle period.
func (s *Session) InputChanged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.peer == "" {
		return nil
	}

	if err := s.emit(models.EventTyping, models.TypingPayload{Sender: s.identity, Recipient: s.peer, IsTyping: true}); err != nil {
		return err
	}

	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingGen++
	gen := s.typingGen
	s.typingTo = s.peer
	s.typingTimer = time.AfterFunc(s.typingIdle, func() { s.typingExpired(gen) })
	return nil
}

// Close stops the typing timer. A pending typing=false is still sent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.stopTypingLocked()
	s.closed = true
	return err
}

func (s *Session) typingExpired(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.typingGen || s.typingTo == "" {
		return
	}
	_ = s.stopTypingLocked()
}

// stopTypingLocked ends a pending typing hint early, for example when the
// focus moves away from the peer being typed to.
func (s *Session) stopTypingLocked() error {
	if s.typingTo == "" {
		return nil
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	to := s.typingTo
	s.typingTo = ""
	s.typingGen++
	return s.emit(models.EventTyping, models.TypingPayload{Sender: s.identity, Recipient: to, IsTyping: false})
}

func (s *Session) emit(eventType string, payload any) error {
	event, err := models.NewInboundEvent(eventType, payload)
	if err != nil {
		return err
	}
	return s.emitter.Emit(event)
}
