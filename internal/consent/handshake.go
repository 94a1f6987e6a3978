// Package consent tracks the request/accept/decline exchange that precedes
// a media upgrade and forwards readiness to the negotiation engine.
package consent

import (
	"context"
	"errors"

	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrRequestPending = errors.New("video request already pending")
	ErrNotRequested   = errors.New("no video request to answer")
	ErrNotAccepted    = errors.New("video upgrade not accepted")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequested
	PhaseAccepted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequested:
		return "requested"
	case PhaseAccepted:
		return "accepted"
	}
	return "unknown"
}

// Outbox sends a message to the partner through the relay.
type Outbox interface {
	Send(t models.MessageType, payload any) error
}

// ReadinessGate receives both halves of the readiness barrier. The
// negotiation engine implements it.
type ReadinessGate interface {
	MarkLocalReady(ctx context.Context) (bool, error)
	MarkRemoteReady(ctx context.Context) (bool, error)
}

// Handshake is owned by the participant event loop and is not safe for
// concurrent use.
type Handshake struct {
	phase    Phase
	outbound bool // we sent video:request and await the partner's answer
	inbound  bool // the partner's request awaits our answer

	readySent bool
	gate      ReadinessGate

	out Outbox
	log logrus.FieldLogger
}

func New(out Outbox, log logrus.FieldLogger) *Handshake {
	return &Handshake{out: out, log: log}
}

func (h *Handshake) Phase() Phase { return h.phase }

// Initiator reports whether the pending request was sent by this side.
func (h *Handshake) Initiator() bool { return h.outbound }

// Awaiting reports whether a partner request is waiting for Accept or Decline.
func (h *Handshake) Awaiting() bool { return h.inbound }

// Request asks the partner for a media upgrade.
func (h *Handshake) Request() error {
	if h.phase == PhaseAccepted || h.outbound {
		return ErrRequestPending
	}
	if err := h.out.Send(models.TypeVideoRequest, nil); err != nil {
		return err
	}
	h.outbound = true
	h.phase = PhaseRequested
	return nil
}

// ReceiveRequest records the partner's video:request. A second request
// while one is already waiting is ignored.
func (h *Handshake) ReceiveRequest() {
	if h.phase == PhaseAccepted {
		h.log.Debug("Ignoring video request during an active upgrade")
		return
	}
	h.inbound = true
	h.phase = PhaseRequested
}

// Accept answers the partner's request. The phase changes only when the
// server echoes video:accept back.
func (h *Handshake) Accept() error {
	if !h.inbound {
		return ErrNotRequested
	}
	return h.out.Send(models.TypeVideoAccept, nil)
}

// Decline refuses the partner's request. Like Accept, the echo drives the
// transition.
func (h *Handshake) Decline() error {
	if !h.inbound {
		return ErrNotRequested
	}
	return h.out.Send(models.TypeVideoDecline, nil)
}

// OnAccepted handles the echoed video:accept. Only a pending request can
// be accepted: an accept with nothing requested, or a repeat of one
// already applied, returns false and changes nothing.
func (h *Handshake) OnAccepted(gate ReadinessGate) bool {
	if h.phase != PhaseRequested {
		h.log.WithField("phase", h.phase).Debug("Ignoring video:accept without a pending request")
		return false
	}
	h.phase = PhaseAccepted
	h.outbound, h.inbound = false, false
	h.readySent = false
	h.gate = gate
	return true
}

// OnDeclined handles the echoed video:decline and returns to Idle.
func (h *Handshake) OnDeclined() {
	h.Reset()
}

// LocalReady announces local readiness once media is prepared. Only the
// first call per accepted upgrade sends video:ready.
func (h *Handshake) LocalReady(ctx context.Context) (bool, error) {
	if h.phase != PhaseAccepted {
		return false, ErrNotAccepted
	}
	if h.readySent {
		return false, nil
	}
	if err := h.out.Send(models.TypeVideoReady, nil); err != nil {
		return false, err
	}
	h.readySent = true
	return h.gate.MarkLocalReady(ctx)
}

// RemoteReady handles the partner's video:ready. Outside an accepted
// upgrade it is ignored.
func (h *Handshake) RemoteReady(ctx context.Context) (bool, error) {
	if h.phase != PhaseAccepted {
		h.log.WithField("phase", h.phase).Debug("Ignoring video:ready outside an accepted upgrade")
		return false, nil
	}
	return h.gate.MarkRemoteReady(ctx)
}

// Reset returns to Idle, e.g. when the session ends or media is torn down.
func (h *Handshake) Reset() {
	h.phase = PhaseIdle
	h.outbound, h.inbound = false, false
	h.readySent = false
	h.gate = nil
}
