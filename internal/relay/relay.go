// Package relay forwards peer-to-peer envelopes between the two members of
// a session. It never interprets descriptor or candidate contents.
package relay

import (
	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/sirupsen/logrus"
)

// Endpoint is a connected peer's outbound channel. Deliver must not block
// and reports false when the message could not be queued.
type Endpoint interface {
	Deliver(msg models.Message) bool
}

// Directory resolves peer ids to endpoints.
type Directory interface {
	Lookup(peerID string) (Endpoint, bool)
}

type Relay struct {
	dir Directory
	log logrus.FieldLogger
}

func New(dir Directory, log logrus.FieldLogger) *Relay {
	return &Relay{dir: dir, log: log}
}

// Forward delivers payload to target. Unresolvable targets are dropped
// silently; the disconnect path ends the stale session on its own.
func (r *Relay) Forward(from, to string, t models.MessageType, payload any) bool {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		r.log.WithError(err).WithField("type", t).Warn("Failed to marshal relayed message")
		return false
	}
	return r.deliver(from, to, msg)
}

// Echo delivers the same message to the sender and its partner, so both
// sides of a consent decision transition together.
func (r *Relay) Echo(from, to string, t models.MessageType) {
	r.Forward(from, to, t, nil)
	r.Forward(from, from, t, nil)
}

// ForwardSignal relays an opaque descriptor and/or candidate, tagged with
// the sender. An envelope carrying both is split, descriptor first.
func (r *Relay) ForwardSignal(from, to string, sig models.SignalPayload) {
	if len(sig.Description) > 0 {
		r.Forward(from, to, models.TypeSignal, models.SignalPayload{Description: sig.Description, From: from})
	}
	if len(sig.Candidate) > 0 {
		r.Forward(from, to, models.TypeSignal, models.SignalPayload{Candidate: sig.Candidate, From: from})
	}
}

func (r *Relay) deliver(from, to string, msg models.Message) bool {
	endpoint, ok := r.dir.Lookup(to)
	if !ok {
		r.log.WithFields(logrus.Fields{"from": from, "to": to, "type": msg.Type}).Debug("Dropping message for unknown peer")
		return false
	}
	if !endpoint.Deliver(msg) {
		r.log.WithFields(logrus.Fields{"from": from, "to": to, "type": msg.Type}).Warn("Dropping message, peer buffer full")
		return false
	}
	return true
}
