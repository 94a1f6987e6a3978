package models

import "encoding/json"

// MessageType names an entry of the relay message catalogue
type MessageType string

const (
	// server → peer
	TypeQueueWaiting MessageType = "queue:waiting"
	TypeChatStart    MessageType = "chat:start"
	TypeChatEnded    MessageType = "chat:ended"
	TypePartnerMode  MessageType = "partner:mode"
	TypeError        MessageType = "error"

	// peer → server
	TypeChatNext    MessageType = "chat:next"
	TypeModeChanged MessageType = "mode:changed"

	// peer → peer via server
	TypeChatMessage  MessageType = "chat:message"
	TypeChatTyping   MessageType = "chat:typing"
	TypeVideoRequest MessageType = "video:request"
	TypeVideoAccept  MessageType = "video:accept"
	TypeVideoDecline MessageType = "video:decline"
	TypeVideoReady   MessageType = "video:ready"
	TypeSignal       MessageType = "signal"
)

// Message is the envelope for every websocket frame in both directions.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope, marshalling payload when it is not nil.
func NewMessage(t MessageType, payload any) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Role is the wire form of a participant's negotiation role.
type Role string

const (
	RoleCaller Role = "caller" // previously waiting, impolite
	RoleCallee Role = "callee" // arriving, polite
)

// ChatStartPayload is sent to both members when a session is formed.
type ChatStartPayload struct {
	PartnerID        string `json:"partnerId"`
	Role             Role   `json:"role"`
	PartnerVideoMode bool   `json:"partnerVideoMode"`
}

// ChatMessagePayload carries chat text in both directions.
type ChatMessagePayload struct {
	Text string `json:"text"`
}

// ModePayload is used by mode:changed and partner:mode.
type ModePayload struct {
	VideoMode bool `json:"videoMode"`
}

// SignalPayload carries an opaque descriptor and/or candidate. Peers set To,
// the server replaces it with From before delivery.
type SignalPayload struct {
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	To          string          `json:"to,omitempty"`
	From        string          `json:"from,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Truthy coerces a loosely typed payload the way browser clients send
// chat:typing: absent, null, false, 0 and "" are false, anything else true.
func Truthy(raw json.RawMessage) bool {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	}
	return true
}
