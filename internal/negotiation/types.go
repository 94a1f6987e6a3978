package negotiation

import (
	"encoding/json"
	"fmt"

	"github.com/mossy-p/stranger-chat/internal/models"
)

// DescriptorType tags a session description.
type DescriptorType string

const (
	DescriptorOffer  DescriptorType = "offer"
	DescriptorAnswer DescriptorType = "answer"
)

// Descriptor is an offer or answer. The SDP body is opaque to the engine.
type Descriptor struct {
	Type DescriptorType `json:"type"`
	SDP  string         `json:"sdp"`
}

// Candidate is a single connectivity hint, passed through untouched.
type Candidate json.RawMessage

func (c Candidate) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return c, nil
}

func (c *Candidate) UnmarshalJSON(data []byte) error {
	*c = append((*c)[:0], data...)
	return nil
}

// Role is the deterministic tie-break assigned at pairing time.
type Role int

const (
	// Caller was waiting when the pair formed. Impolite: wins collisions.
	Caller Role = iota
	// Callee arrived and triggered the pairing. Polite: yields on collisions.
	Callee
)

// CollisionPolicy is what a role does with a remote offer that collides with
// its own negotiation.
type CollisionPolicy int

const (
	// Ignore drops the incoming offer and keeps local state.
	Ignore CollisionPolicy = iota
	// Yield rolls back the local offer and accepts the remote one.
	Yield
)

func (r Role) OnCollision() CollisionPolicy {
	switch r {
	case Caller:
		return Ignore
	case Callee:
		return Yield
	}
	panic(fmt.Sprintf("negotiation: unknown role %d", int(r)))
}

// Polite reports whether the role yields on collisions.
func (r Role) Polite() bool {
	return r.OnCollision() == Yield
}

// StartsOffer reports whether the role synthesizes the initial offer once
// both sides are ready.
func (r Role) StartsOffer() bool {
	return r == Caller
}

func (r Role) String() string {
	switch r {
	case Caller:
		return string(models.RoleCaller)
	case Callee:
		return string(models.RoleCallee)
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole maps the wire role from chat:start.
func ParseRole(r models.Role) (Role, error) {
	switch r {
	case models.RoleCaller:
		return Caller, nil
	case models.RoleCallee:
		return Callee, nil
	}
	return 0, fmt.Errorf("unknown role %q", r)
}

// State is the signaling state of one engine instance.
type State int

const (
	StateNoConnection State = iota
	StateStable
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNoConnection:
		return "no-connection"
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}
