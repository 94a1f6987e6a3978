package matchmaking

import (
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/stranger-chat/internal/models"
)

// Session is an established pairing. Caller was waiting when the pairing
// happened, Callee arrived and triggered it.
type Session struct {
	ID        string
	Caller    string
	Callee    string
	StartedAt time.Time
}

// Role returns the role peerID holds in the session.
func (s *Session) Role(peerID string) models.Role {
	if peerID == s.Caller {
		return models.RoleCaller
	}
	return models.RoleCallee
}

// Partner returns the other member of the session.
func (s *Session) Partner(peerID string) string {
	if peerID == s.Caller {
		return s.Callee
	}
	return s.Caller
}

func (s *Session) Record() models.SessionRecord {
	return models.SessionRecord{ID: s.ID, Caller: s.Caller, Callee: s.Callee, StartedAt: s.StartedAt}
}

// Registry holds the current pairings and per-peer mode flags. It does no
// locking of its own; the Matchmaker is its only writer.
type Registry struct {
	sessions map[string]*Session // keyed by both member ids
	modes    map[string]bool     // true = video
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		modes:    make(map[string]bool),
		now:      time.Now,
	}
}

// Pair records a new session. Both peers must be unpaired.
func (r *Registry) Pair(caller, callee string) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Caller:    caller,
		Callee:    callee,
		StartedAt: r.now(),
	}
	r.sessions[caller] = s
	r.sessions[callee] = s
	return s
}

// Session returns the session peerID belongs to, if any.
func (r *Registry) Session(peerID string) (*Session, bool) {
	s, ok := r.sessions[peerID]
	return s, ok
}

func (r *Registry) Paired(peerID string) bool {
	_, ok := r.sessions[peerID]
	return ok
}

// Partner returns the current partner of peerID.
func (r *Registry) Partner(peerID string) (string, bool) {
	s, ok := r.sessions[peerID]
	if !ok {
		return "", false
	}
	return s.Partner(peerID), true
}

// Remove deletes the session peerID belongs to, for both members.
func (r *Registry) Remove(peerID string) (*Session, bool) {
	s, ok := r.sessions[peerID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, s.Caller)
	delete(r.sessions, s.Callee)
	return s, true
}

func (r *Registry) SetMode(peerID string, video bool) {
	r.modes[peerID] = video
}

func (r *Registry) VideoMode(peerID string) bool {
	return r.modes[peerID]
}

func (r *Registry) Forget(peerID string) {
	delete(r.modes, peerID)
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	return len(r.sessions) / 2
}

// Sessions lists active sessions, each once.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, r.Count())
	for id, s := range r.sessions {
		if id == s.Caller {
			out = append(out, s)
		}
	}
	return out
}
