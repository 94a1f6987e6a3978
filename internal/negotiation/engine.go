// Package negotiation drives one side of a two-party offer/answer exchange
// to convergence. Collisions ("glare") are resolved by role alone: the
// Caller ignores a colliding remote offer, the Callee rolls back its own
// and accepts the remote one.
//
// An Engine is not safe for concurrent use. It is owned by a single event
// loop that feeds it relayed messages and readiness changes in order.
package negotiation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type Config struct {
	Role     Role
	Connect  ConnectionFactory
	Signaler Signaler
	OnEvent  EventHandler
	Log      logrus.FieldLogger
}

type Engine struct {
	role     Role
	connect  ConnectionFactory
	signaler Signaler
	onEvent  EventHandler
	log      logrus.FieldLogger

	conn  Connection
	media MediaSource
	state State

	offerInFlight             bool
	offerEverStarted          bool
	awaitingAnswerApplication bool

	localReady  bool
	remoteReady bool

	descriptors []Descriptor
	candidates  []Candidate
}

func New(cfg Config) *Engine {
	onEvent := cfg.OnEvent
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Engine{
		role:     cfg.Role,
		connect:  cfg.Connect,
		signaler: cfg.Signaler,
		onEvent:  onEvent,
		log:      cfg.Log.WithField("role", cfg.Role.String()),
		state:    StateNoConnection,
	}
}

// Snapshot is a copy of the engine's observable state.
type Snapshot struct {
	State                     State
	OfferInFlight             bool
	OfferEverStarted          bool
	AwaitingAnswerApplication bool
	LocalReady                bool
	RemoteReady               bool
	PendingDescriptors        int
	PendingCandidates         int
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		State:                     e.state,
		OfferInFlight:             e.offerInFlight,
		OfferEverStarted:          e.offerEverStarted,
		AwaitingAnswerApplication: e.awaitingAnswerApplication,
		LocalReady:                e.localReady,
		RemoteReady:               e.remoteReady,
		PendingDescriptors:        len(e.descriptors),
		PendingCandidates:         len(e.candidates),
	}
}

func (e *Engine) Role() Role { return e.role }

func (e *Engine) State() State { return e.state }

// Ready reports whether both sides passed the readiness barrier.
func (e *Engine) Ready() bool {
	return e.localReady && e.remoteReady
}

// Prepare hands the engine the captured local media and creates the
// connection so the tracks are attached before any negotiation. A nil
// media source still creates the connection (receive only).
func (e *Engine) Prepare(media MediaSource) error {
	if e.state == StateClosed {
		return ErrClosed
	}
	e.media = media
	if e.conn != nil {
		if media == nil {
			return nil
		}
		if err := e.conn.AttachMedia(media); err != nil {
			return &Error{Op: "attach media", Err: err}
		}
		return nil
	}
	return e.ensureConnection()
}

// SubmitRemoteDescriptor buffers a relayed descriptor and drives.
func (e *Engine) SubmitRemoteDescriptor(ctx context.Context, d Descriptor) error {
	if e.state == StateClosed {
		return ErrClosed
	}
	e.descriptors = append(e.descriptors, d)
	return e.Drive(ctx)
}

// SubmitRemoteCandidate buffers a relayed candidate and drives.
func (e *Engine) SubmitRemoteCandidate(ctx context.Context, c Candidate) error {
	if e.state == StateClosed {
		return ErrClosed
	}
	e.candidates = append(e.candidates, c)
	return e.Drive(ctx)
}

// MarkLocalReady sets the local half of the readiness barrier. It returns
// false when the flag was already set; a repeat has no other effect.
func (e *Engine) MarkLocalReady(ctx context.Context) (bool, error) {
	if e.state == StateClosed {
		return false, ErrClosed
	}
	if e.localReady {
		return false, nil
	}
	e.localReady = true
	return true, e.readinessChanged(ctx)
}

// MarkRemoteReady sets the partner's half of the readiness barrier.
func (e *Engine) MarkRemoteReady(ctx context.Context) (bool, error) {
	if e.state == StateClosed {
		return false, ErrClosed
	}
	if e.remoteReady {
		return false, nil
	}
	e.remoteReady = true
	return true, e.readinessChanged(ctx)
}

func (e *Engine) readinessChanged(ctx context.Context) error {
	if e.Ready() {
		e.emit(Event{Kind: EventReady})
	}
	return e.Drive(ctx)
}

// Drive processes buffered input. Nothing happens until both readiness
// flags are set. Every pass drains all descriptors before any candidate,
// then lets the Caller start the first offer. Only a cancelled context is
// returned as an error; negotiation failures are reported as events and
// abort the current attempt.
func (e *Engine) Drive(ctx context.Context) error {
	if e.state == StateClosed || !e.Ready() {
		return nil
	}

	for len(e.descriptors) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := e.descriptors[0]
		e.descriptors = e.descriptors[1:]

		if err := e.applyRemote(d); err != nil {
			e.abortAttempt(err)
		}
	}

	for len(e.candidates) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := e.candidates[0]
		e.candidates = e.candidates[1:]

		e.applyCandidate(c)
	}

	// The connection never reports negotiation-needed for tracks attached
	// before it existed, so the Caller starts the first offer itself.
	if e.role.StartsOffer() && e.state == StateStable && !e.offerInFlight && !e.offerEverStarted {
		e.offerEverStarted = true
		if err := e.makeOffer(); err != nil {
			e.offerEverStarted = false
			e.abortAttempt(err)
		}
	}
	return nil
}

// Negotiate starts a new offer from either role, as after a track change.
// It does nothing before the readiness barrier or while an exchange is
// already under way.
func (e *Engine) Negotiate(ctx context.Context) error {
	if e.state == StateClosed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.Ready() || e.offerInFlight || (e.state != StateStable && e.state != StateNoConnection) {
		return nil
	}
	e.offerEverStarted = true
	if err := e.makeOffer(); err != nil {
		e.abortAttempt(err)
	}
	return nil
}

// Downgrade returns to text mode: the connection and media are closed and
// every buffer and flag is cleared. The engine can be prepared again.
func (e *Engine) Downgrade() {
	if e.state == StateClosed {
		return
	}
	e.teardown()
	e.setState(StateNoConnection)
}

// Close ends the engine for good (session end or partner loss).
func (e *Engine) Close() {
	if e.state == StateClosed {
		return
	}
	e.teardown()
	e.setState(StateClosed)
}

func (e *Engine) teardown() {
	if e.conn != nil {
		if err := e.conn.Close(); err != nil {
			e.log.WithError(err).Debug("Closing connection")
		}
		e.conn = nil
	}
	if e.media != nil {
		if err := e.media.Close(); err != nil {
			e.log.WithError(err).Debug("Releasing local media")
		}
		e.media = nil
	}
	e.descriptors = nil
	e.candidates = nil
	e.offerInFlight = false
	e.offerEverStarted = false
	e.awaitingAnswerApplication = false
	e.localReady = false
	e.remoteReady = false
}

func (e *Engine) applyRemote(d Descriptor) error {
	switch d.Type {
	case DescriptorOffer:
		return e.acceptOffer(d)
	case DescriptorAnswer:
		return e.applyAnswer(d)
	}
	return opError("apply descriptor", ErrDescriptionApplication, fmt.Errorf("unexpected type %q", d.Type))
}

func (e *Engine) acceptOffer(d Descriptor) error {
	collision := e.offerInFlight || (e.state != StateStable && e.state != StateNoConnection)

	if collision {
		switch e.role.OnCollision() {
		case Ignore:
			e.log.WithField("state", e.state.String()).Debug("Ignoring colliding remote offer")
			e.emit(Event{Kind: EventCollisionDiscarded})
			return nil
		case Yield:
			e.log.WithField("state", e.state.String()).Debug("Rolling back local offer for remote offer")
		}
	}

	if err := e.ensureConnection(); err != nil {
		return err
	}

	if collision {
		if err := e.conn.Rollback(); err != nil {
			return opError("rollback", ErrDescriptionApplication, err)
		}
		e.offerInFlight = false
		e.setState(StateStable)
		e.emit(Event{Kind: EventOfferRolledBack})
	}

	if err := e.conn.SetRemoteDescription(d); err != nil {
		return opError("set remote offer", ErrDescriptionApplication, err)
	}
	e.setState(StateHaveRemoteOffer)

	answer, err := e.conn.CreateAnswer()
	if err != nil {
		return opError("create answer", ErrDescriptionApplication, err)
	}
	if err := e.conn.SetLocalDescription(answer); err != nil {
		return opError("set local answer", ErrDescriptionApplication, err)
	}
	e.send(answer)
	e.setState(StateStable)
	e.emit(Event{Kind: EventAnswerSent})
	return nil
}

func (e *Engine) applyAnswer(d Descriptor) error {
	if e.conn == nil || e.state != StateHaveLocalOffer {
		return opError("apply answer", ErrDescriptionApplication, fmt.Errorf("no local offer in state %s", e.state))
	}

	e.awaitingAnswerApplication = true
	err := e.conn.SetRemoteDescription(d)
	e.awaitingAnswerApplication = false
	if err != nil {
		return opError("set remote answer", ErrDescriptionApplication, err)
	}

	e.setState(StateStable)
	e.emit(Event{Kind: EventAnswerApplied})
	return nil
}

func (e *Engine) applyCandidate(c Candidate) {
	var err error
	if e.conn == nil {
		err = fmt.Errorf("%w: no connection", ErrCandidateApplication)
	} else if addErr := e.conn.AddCandidate(c); addErr != nil {
		err = fmt.Errorf("%w: %w", ErrCandidateApplication, addErr)
	}
	if err != nil {
		e.log.WithError(err).Warn("Dropping remote candidate")
		e.emit(Event{Kind: EventCandidateDropped, Err: err})
	}
}

func (e *Engine) makeOffer() error {
	if err := e.ensureConnection(); err != nil {
		return err
	}

	e.offerInFlight = true
	defer func() { e.offerInFlight = false }()

	offer, err := e.conn.CreateOffer()
	if err != nil {
		return opError("create offer", ErrDescriptionApplication, err)
	}
	if err := e.conn.SetLocalDescription(offer); err != nil {
		return opError("set local offer", ErrDescriptionApplication, err)
	}
	e.setState(StateHaveLocalOffer)
	e.send(offer)
	e.emit(Event{Kind: EventOfferSent})
	return nil
}

func (e *Engine) ensureConnection() error {
	if e.conn != nil {
		return nil
	}
	conn, err := e.connect()
	if err != nil {
		return &Error{Op: "create connection", Err: err}
	}
	if e.media != nil {
		if err := conn.AttachMedia(e.media); err != nil {
			_ = conn.Close()
			return &Error{Op: "attach media", Err: err}
		}
	}
	e.conn = conn
	e.setState(StateStable)
	return nil
}

// abortAttempt ends the exchange in progress and returns to stable so a
// later Negotiate can retry. The session itself is untouched.
func (e *Engine) abortAttempt(err error) {
	e.log.WithError(err).Warn("Negotiation attempt failed")
	e.offerInFlight = false
	e.awaitingAnswerApplication = false
	if e.conn != nil && (e.state == StateHaveLocalOffer || e.state == StateHaveRemoteOffer) {
		if rbErr := e.conn.Rollback(); rbErr != nil {
			e.log.WithError(rbErr).Debug("Rollback after failed attempt")
		}
		e.setState(StateStable)
	}
	e.emit(Event{Kind: EventNegotiationFailed, Err: err})
}

func (e *Engine) send(d Descriptor) {
	if err := e.signaler.SendDescriptor(d); err != nil {
		e.log.WithError(err).WithField("type", d.Type).Warn("Failed to send descriptor")
	}
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.state = s
	e.emit(Event{Kind: EventStateChanged, State: s})
}

func (e *Engine) emit(ev Event) {
	if ev.Kind != EventStateChanged {
		ev.State = e.state
	}
	e.onEvent(ev)
}
