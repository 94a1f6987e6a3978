package negotiation

// EventKind classifies what the engine reports to its consumer.
type EventKind int

const (
	EventStateChanged EventKind = iota
	EventOfferSent
	EventAnswerSent
	EventAnswerApplied
	EventOfferRolledBack
	EventCollisionDiscarded
	EventCandidateDropped
	EventNegotiationFailed
	EventReady
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state-changed"
	case EventOfferSent:
		return "offer-sent"
	case EventAnswerSent:
		return "answer-sent"
	case EventAnswerApplied:
		return "answer-applied"
	case EventOfferRolledBack:
		return "offer-rolled-back"
	case EventCollisionDiscarded:
		return "collision-discarded"
	case EventCandidateDropped:
		return "candidate-dropped"
	case EventNegotiationFailed:
		return "negotiation-failed"
	case EventReady:
		return "ready"
	}
	return "unknown"
}

// Event is emitted synchronously from the engine goroutine. Handlers must
// not call back into the engine.
type Event struct {
	Kind  EventKind
	State State
	Err   error
}

// EventHandler consumes engine events, typically a UI layer.
type EventHandler func(Event)
