package negotiation

import (
	"errors"
	"fmt"
)

var errInjected = errors.New("injected")

// fakeConn records every call in order and lets tests inject failures.
type fakeConn struct {
	name   string
	ops    []string
	local  *Descriptor
	remote *Descriptor

	offers        int
	attached      int
	closed        bool
	failRemote    int
	failCandidate bool

	onSetRemote func()
}

func (c *fakeConn) CreateOffer() (Descriptor, error) {
	c.offers++
	c.ops = append(c.ops, "create-offer")
	return Descriptor{Type: DescriptorOffer, SDP: fmt.Sprintf("%s-offer-%d", c.name, c.offers)}, nil
}

func (c *fakeConn) CreateAnswer() (Descriptor, error) {
	c.ops = append(c.ops, "create-answer")
	if c.remote == nil {
		return Descriptor{}, errors.New("no remote offer")
	}
	return Descriptor{Type: DescriptorAnswer, SDP: c.name + "-answer-to-" + c.remote.SDP}, nil
}

func (c *fakeConn) SetLocalDescription(d Descriptor) error {
	c.ops = append(c.ops, "local:"+string(d.Type))
	c.local = &d
	return nil
}

func (c *fakeConn) SetRemoteDescription(d Descriptor) error {
	c.ops = append(c.ops, "remote:"+string(d.Type))
	if c.onSetRemote != nil {
		c.onSetRemote()
	}
	if c.failRemote > 0 {
		c.failRemote--
		return errInjected
	}
	c.remote = &d
	return nil
}

func (c *fakeConn) Rollback() error {
	c.ops = append(c.ops, "rollback")
	c.local = nil
	return nil
}

func (c *fakeConn) AddCandidate(cand Candidate) error {
	c.ops = append(c.ops, "candidate:"+string(cand))
	if c.failCandidate {
		return errInjected
	}
	return nil
}

func (c *fakeConn) AttachMedia(MediaSource) error {
	c.attached++
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeMedia struct{ closed bool }

func (m *fakeMedia) Close() error {
	m.closed = true
	return nil
}

// wire collects what an engine sends to its partner.
type wire struct {
	descriptors []Descriptor
}

func (w *wire) SendDescriptor(d Descriptor) error {
	w.descriptors = append(w.descriptors, d)
	return nil
}

func (w *wire) SendCandidate(Candidate) error { return nil }

func (w *wire) take() []Descriptor {
	out := w.descriptors
	w.descriptors = nil
	return out
}

// side bundles an engine with its fakes.
type side struct {
	engine *Engine
	conns  []*fakeConn
	out    *wire
	events []Event
}

func (s *side) conn() *fakeConn {
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

func (s *side) count(kind EventKind) int {
	n := 0
	for _, ev := range s.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
