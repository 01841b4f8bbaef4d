package models

import "encoding/json"

// Inbound event types sent by clients.
const (
	EventRegister      = "register"
	EventJoinRoom      = "joinRoom"
	EventLeaveRoom     = "leaveRoom"
	EventGroupSend     = "groupSend"
	EventDirectSend    = "directSend"
	EventDirectHistory = "directHistory"
	EventTyping        = "typing"
)

// Outbound event types pushed to clients.
const (
	EventRoomHistory    = "roomHistory"
	EventGroupMessage   = "groupMessage"
	EventPrivateHistory = "privateHistory"
	EventPrivateMessage = "privateMessage"
)

// InboundEvent is the envelope every client frame is decoded into.
type InboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundEvent is the envelope pushed over websocket connections.
type OutboundEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type RegisterPayload struct {
	Identity string `json:"identity" validate:"required"`
}

type JoinRoomPayload struct {
	Room     string `json:"room" validate:"required"`
	Identity string `json:"identity"`
}

type LeaveRoomPayload struct {
	Room     string `json:"room" validate:"required"`
	Identity string `json:"identity"`
}

type GroupSendPayload struct {
	Room   string `json:"room" validate:"required"`
	Sender string `json:"sender" validate:"required"`
	Body   string `json:"body" validate:"required"`
}

type DirectSendPayload struct {
	Sender    string `json:"sender" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
	Body      string `json:"body" validate:"required"`
}

type DirectHistoryPayload struct {
	Requester string `json:"requester" validate:"required"`
	Peer      string `json:"peer" validate:"required"`
}

type TypingPayload struct {
	Sender    string `json:"sender" validate:"required"`
	Recipient string `json:"recipient" validate:"required"`
	IsTyping  Flag   `json:"isTyping"`
}

// Flag decodes any JSON value by truthiness: false, 0, "", null and a
// missing field are false, everything else is true. It encodes as a bool.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = Flag(t)
	case float64:
		*f = t != 0
	case string:
		*f = t != ""
	default:
		*f = true
	}
	return nil
}

// PrivateHistory is tagged with the peer so clients juggling several
// conversations can tell replies apart.
type PrivateHistory struct {
	Peer     string          `json:"peer"`
	Messages []DirectMessage `json:"messages"`
}

// TypingSignal is forwarded to the recipient of a typing event.
type TypingSignal struct {
	Sender   string `json:"sender"`
	IsTyping bool   `json:"isTyping"`
}

// NewInboundEvent wraps payload into an envelope ready to be written to the wire.
func NewInboundEvent(eventType string, payload any) (InboundEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return InboundEvent{}, err
	}
	return InboundEvent{Type: eventType, Payload: raw}, nil
}
