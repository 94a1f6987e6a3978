package peerclient

import (
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/mossy-p/stranger-chat/internal/negotiation"
)

type EventKind int

const (
	EventWaiting EventKind = iota
	EventMatched
	EventEnded
	EventMessage
	EventTyping
	EventPartnerMode
	EventVideoRequested
	EventVideoAccepted
	EventVideoDeclined
	EventVideoEnded
	EventNegotiation
)

func (k EventKind) String() string {
	switch k {
	case EventWaiting:
		return "waiting"
	case EventMatched:
		return "matched"
	case EventEnded:
		return "ended"
	case EventMessage:
		return "message"
	case EventTyping:
		return "typing"
	case EventPartnerMode:
		return "partner-mode"
	case EventVideoRequested:
		return "video-requested"
	case EventVideoAccepted:
		return "video-accepted"
	case EventVideoDeclined:
		return "video-declined"
	case EventVideoEnded:
		return "video-ended"
	case EventNegotiation:
		return "negotiation"
	}
	return "unknown"
}

// Event is what a front end renders. Only the fields relevant to Kind are
// set: Text for messages, On for typing and mode flags (and the partner's
// video mode on a match), Role on a match, Negotiation for engine events.
type Event struct {
	Kind        EventKind
	Text        string
	On          bool
	Role        models.Role
	Negotiation *negotiation.Event
}
