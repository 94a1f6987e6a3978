// Package peerclient is the participant side: it talks to the matchmaking
// server, runs the consent handshake and drives a negotiation engine per
// accepted media upgrade.
package peerclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mossy-p/stranger-chat/internal/consent"
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/mossy-p/stranger-chat/internal/negotiation"
	"github.com/sirupsen/logrus"
)

// ConnectFunc builds the connection factory for one upgrade. onCandidate
// must be called for every local ICE candidate.
type ConnectFunc func(onCandidate func(negotiation.Candidate)) negotiation.ConnectionFactory

type Options struct {
	Client       *Client
	Connect      ConnectFunc
	Acquire      negotiation.MediaAcquirer
	AutoAccept   bool // accept every incoming video request
	RequestVideo bool // ask each new partner for video
	OnEvent      func(Event)
	Log          logrus.FieldLogger
}

// Peer runs one participant. All state is owned by the Run goroutine;
// the exported actions are queued onto it.
type Peer struct {
	opts     Options
	client   *Client
	commands chan func(context.Context)
	log      logrus.FieldLogger

	partnerID string
	role      negotiation.Role
	handshake *consent.Handshake
	engine    *negotiation.Engine
	media     negotiation.MediaSource
	candidate chan candidateFromPion
}

// candidateFromPion carries a local candidate from a pion goroutine back
// to the loop together with the partner it was gathered for.
type candidateFromPion struct {
	to        string
	candidate negotiation.Candidate
}

func New(opts Options) *Peer {
	if opts.OnEvent == nil {
		opts.OnEvent = func(Event) {}
	}
	p := &Peer{
		opts:      opts,
		client:    opts.Client,
		commands:  make(chan func(context.Context), 16),
		log:       opts.Log,
		candidate: make(chan candidateFromPion, 64),
	}
	p.handshake = consent.New(p.client, p.log)
	return p
}

// Run processes server messages and queued actions until the connection
// drops or ctx is cancelled.
func (p *Peer) Run(ctx context.Context) error {
	defer p.endSession()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-p.client.Incoming():
			if !ok {
				return ErrDisconnected
			}
			p.handle(ctx, msg)

		case cmd := <-p.commands:
			cmd(ctx)

		case c := <-p.candidate:
			if c.to == p.partnerID {
				p.sendSignal(models.SignalPayload{Candidate: json.RawMessage(c.candidate)})
			}
		}
	}
}

// ErrDisconnected is returned by Run when the server closes the socket.
var ErrDisconnected = errors.New("disconnected from server")

func (p *Peer) handle(ctx context.Context, msg models.Message) {
	switch msg.Type {
	case models.TypeQueueWaiting:
		p.emit(Event{Kind: EventWaiting})

	case models.TypeChatStart:
		var start models.ChatStartPayload
		if err := msg.Decode(&start); err != nil {
			p.log.WithError(err).Warn("Malformed chat:start")
			return
		}
		p.startSession(start)

	case models.TypeChatEnded:
		p.endSession()
		p.emit(Event{Kind: EventEnded})

	case models.TypeChatMessage:
		var m models.ChatMessagePayload
		if err := msg.Decode(&m); err == nil {
			p.emit(Event{Kind: EventMessage, Text: m.Text})
		}

	case models.TypeChatTyping:
		p.emit(Event{Kind: EventTyping, On: models.Truthy(msg.Payload)})

	case models.TypePartnerMode:
		var m models.ModePayload
		if err := msg.Decode(&m); err == nil {
			p.emit(Event{Kind: EventPartnerMode, On: m.VideoMode})
			if !m.VideoMode {
				// The partner closed its connection; ours is dead too and
				// must not block a fresh request.
				p.leaveVideo()
			}
		}

	case models.TypeVideoRequest:
		p.handshake.ReceiveRequest()
		p.emit(Event{Kind: EventVideoRequested})
		if p.opts.AutoAccept {
			if err := p.handshake.Accept(); err != nil {
				p.log.WithError(err).Warn("Failed to accept video")
			}
		}

	case models.TypeVideoAccept:
		p.onAccepted(ctx)

	case models.TypeVideoDecline:
		p.handshake.OnDeclined()
		p.closeEngine()
		p.emit(Event{Kind: EventVideoDeclined})

	case models.TypeVideoReady:
		if _, err := p.handshake.RemoteReady(ctx); err != nil {
			p.log.WithError(err).Warn("Negotiation failed after partner ready")
		}

	case models.TypeSignal:
		var sig models.SignalPayload
		if err := msg.Decode(&sig); err != nil {
			p.log.WithError(err).Warn("Malformed signal")
			return
		}
		p.onSignal(ctx, sig)

	case models.TypeError:
		var e models.ErrorPayload
		_ = msg.Decode(&e)
		p.log.WithField("error", e.Error).Warn("Server reported an error")

	default:
		p.log.WithField("type", msg.Type).Debug("Ignoring message")
	}
}

func (p *Peer) startSession(start models.ChatStartPayload) {
	role, err := negotiation.ParseRole(start.Role)
	if err != nil {
		p.log.WithError(err).Warn("Unknown role in chat:start")
		return
	}

	p.endSession()
	p.partnerID = start.PartnerID
	p.role = role
	p.log.WithFields(logrus.Fields{"partner": p.partnerID, "role": role}).Info("Matched with a stranger")
	p.emit(Event{Kind: EventMatched, Role: start.Role, On: start.PartnerVideoMode})

	if p.opts.RequestVideo {
		if err := p.handshake.Request(); err != nil {
			p.log.WithError(err).Warn("Failed to request video")
		}
	}
}

// endSession drops everything tied to the current partner.
func (p *Peer) endSession() {
	p.closeEngine()
	p.handshake.Reset()
	p.partnerID = ""
}

func (p *Peer) onAccepted(ctx context.Context) {
	if p.partnerID == "" {
		return
	}
	engine := p.engine
	if engine == nil {
		engine = p.newEngine()
	}
	if !p.handshake.OnAccepted(engine) {
		return
	}
	p.engine = engine
	p.emit(Event{Kind: EventVideoAccepted})

	if err := p.client.Send(models.TypeModeChanged, models.ModePayload{VideoMode: true}); err != nil {
		p.log.WithError(err).Warn("Failed to announce video mode")
	}

	media, err := p.opts.Acquire(ctx)
	if err != nil {
		// Text-only: the connection is still created so the partner's
		// media can be received.
		p.log.WithError(errors.Join(negotiation.ErrMediaAcquisition, err)).Warn("Continuing without local media")
		media = nil
	}
	p.media = media

	if err := p.engine.Prepare(media); err != nil {
		p.log.WithError(err).Warn("Failed to prepare connection")
	}
	if _, err := p.handshake.LocalReady(ctx); err != nil {
		p.log.WithError(err).Warn("Negotiation failed after local ready")
	}
}

func (p *Peer) newEngine() *negotiation.Engine {
	to := p.partnerID
	onCandidate := func(c negotiation.Candidate) {
		select {
		case p.candidate <- candidateFromPion{to: to, candidate: c}:
		default:
			p.log.Warn("Dropping local candidate, queue full")
		}
	}

	return negotiation.New(negotiation.Config{
		Role:     p.role,
		Connect:  p.opts.Connect(onCandidate),
		Signaler: &signaler{peer: p},
		OnEvent:  p.onNegotiationEvent,
		Log:      p.log.WithField("partner", to),
	})
}

func (p *Peer) onSignal(ctx context.Context, sig models.SignalPayload) {
	if sig.From != p.partnerID {
		p.log.WithField("from", sig.From).Debug("Dropping signal from a previous partner")
		return
	}
	if p.engine == nil || p.handshake.Phase() != consent.PhaseAccepted {
		p.log.Debug("Dropping signal outside an accepted upgrade")
		return
	}

	if len(sig.Description) > 0 {
		var d negotiation.Descriptor
		if err := json.Unmarshal(sig.Description, &d); err != nil {
			p.log.WithError(err).Warn("Malformed description")
		} else if err := p.engine.SubmitRemoteDescriptor(ctx, d); err != nil {
			p.log.WithError(err).Warn("Failed to handle description")
		}
	}
	if len(sig.Candidate) > 0 {
		if err := p.engine.SubmitRemoteCandidate(ctx, negotiation.Candidate(sig.Candidate)); err != nil {
			p.log.WithError(err).Warn("Failed to handle candidate")
		}
	}
}

func (p *Peer) onNegotiationEvent(ev negotiation.Event) {
	entry := p.log.WithFields(logrus.Fields{"event": ev.Kind.String(), "state": ev.State.String()})
	switch ev.Kind {
	case negotiation.EventCollisionDiscarded, negotiation.EventOfferRolledBack, negotiation.EventStateChanged:
		entry.Debug("Negotiation")
	case negotiation.EventCandidateDropped, negotiation.EventNegotiationFailed:
		entry.WithError(ev.Err).Warn("Negotiation")
	default:
		entry.Info("Negotiation")
	}
	p.emit(Event{Kind: EventNegotiation, Negotiation: &ev})
}

func (p *Peer) closeEngine() {
	if p.engine != nil {
		p.engine.Close()
		p.engine = nil
	}
	if p.media != nil {
		p.media.Close()
		p.media = nil
	}
}

// leaveVideo returns an accepted upgrade to text mode. The engine is kept
// in NoConnection for a later upgrade with the same partner.
func (p *Peer) leaveVideo() {
	if p.handshake.Phase() != consent.PhaseAccepted {
		return
	}
	if p.engine != nil {
		p.engine.Downgrade()
	}
	if p.media != nil {
		p.media.Close()
		p.media = nil
	}
	p.handshake.Reset()

	if err := p.client.Send(models.TypeModeChanged, models.ModePayload{VideoMode: false}); err != nil {
		p.log.WithError(err).Warn("Failed to announce text mode")
	}
	p.emit(Event{Kind: EventVideoEnded})
}

func (p *Peer) sendSignal(sig models.SignalPayload) {
	sig.To = p.partnerID
	if err := p.client.Send(models.TypeSignal, sig); err != nil {
		p.log.WithError(err).Warn("Failed to send signal")
	}
}

func (p *Peer) emit(ev Event) {
	p.opts.OnEvent(ev)
}

// signaler sends engine output to the current partner.
type signaler struct{ peer *Peer }

func (s *signaler) SendDescriptor(d negotiation.Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	s.peer.sendSignal(models.SignalPayload{Description: data})
	return nil
}

func (s *signaler) SendCandidate(c negotiation.Candidate) error {
	s.peer.sendSignal(models.SignalPayload{Candidate: json.RawMessage(c)})
	return nil
}

// do queues an action onto the Run loop.
func (p *Peer) do(fn func(context.Context)) {
	p.commands <- fn
}

// Say sends chat text to the partner.
func (p *Peer) Say(text string) {
	p.do(func(context.Context) {
		if p.partnerID == "" {
			return
		}
		if err := p.client.Send(models.TypeChatMessage, models.ChatMessagePayload{Text: text}); err != nil {
			p.log.WithError(err).Warn("Failed to send message")
		}
	})
}

// Next leaves the current partner and looks for another.
func (p *Peer) Next() {
	p.do(func(context.Context) {
		p.endSession()
		if err := p.client.Send(models.TypeChatNext, nil); err != nil {
			p.log.WithError(err).Warn("Failed to request next")
		}
	})
}

// RequestVideo asks the partner for a media upgrade.
func (p *Peer) RequestVideo() {
	p.do(func(context.Context) {
		if p.partnerID == "" {
			return
		}
		if err := p.handshake.Request(); err != nil {
			p.log.WithError(err).Warn("Failed to request video")
		}
	})
}

// Answer accepts or declines the partner's pending request.
func (p *Peer) Answer(accept bool) {
	p.do(func(context.Context) {
		var err error
		if accept {
			err = p.handshake.Accept()
		} else {
			err = p.handshake.Decline()
		}
		if err != nil {
			p.log.WithError(err).Warn("Failed to answer video request")
		}
	})
}

// LeaveVideo closes the media connection and returns to text chat. The
// session with the partner continues.
func (p *Peer) LeaveVideo() {
	p.do(func(context.Context) {
		p.leaveVideo()
	})
}

// Renegotiate starts a new offer on the active upgrade.
func (p *Peer) Renegotiate() {
	p.do(func(ctx context.Context) {
		if p.engine == nil {
			return
		}
		if err := p.engine.Negotiate(ctx); err != nil {
			p.log.WithError(err).Warn("Renegotiation failed")
		}
	})
}
