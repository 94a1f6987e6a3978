package matchmaking

import (
	"context"
	"sync"

	"github.com/mossy-p/stranger-chat/internal/models"
	"github.com/sirupsen/logrus"
)

// Notifier delivers server → peer lifecycle messages. Implementations must
// not block: they are called with the matchmaker lock held so that a peer
// always sees chat:ended before the chat:start of its next session.
type Notifier interface {
	Notify(peerID string, t models.MessageType, payload any)
}

// SessionObserver is told about session start and end after the lock is
// released. The Redis store implements it.
type SessionObserver interface {
	SessionStarted(ctx context.Context, s models.SessionRecord)
	SessionEnded(ctx context.Context, s models.SessionRecord)
}

// Matchmaker owns the waiting pool and the Registry. Every mutation happens
// under mu, which makes pair-or-enqueue atomic.
type Matchmaker struct {
	mu        sync.Mutex
	registry  *Registry
	queue     []string
	connected map[string]bool

	notifier  Notifier
	observers []SessionObserver
	log       logrus.FieldLogger
}

func NewMatchmaker(notifier Notifier, log logrus.FieldLogger, observers ...SessionObserver) *Matchmaker {
	return &Matchmaker{
		registry:  NewRegistry(),
		connected: make(map[string]bool),
		notifier:  notifier,
		observers: observers,
		log:       log,
	}
}

// sessionEvent is collected under the lock and dispatched after it.
type sessionEvent struct {
	started bool
	record  models.SessionRecord
}

// Connect registers a newly connected peer in text mode and enqueues it.
func (m *Matchmaker) Connect(ctx context.Context, peerID string) {
	m.mu.Lock()
	m.connected[peerID] = true
	m.registry.SetMode(peerID, false)
	events := m.enqueueLocked(peerID, nil)
	m.mu.Unlock()

	m.dispatch(ctx, events)
}

// Enqueue puts peerID into matchmaking. It is a no-op for a paired or
// disconnected peer.
func (m *Matchmaker) Enqueue(ctx context.Context, peerID string) {
	m.mu.Lock()
	events := m.enqueueLocked(peerID, nil)
	m.mu.Unlock()

	m.dispatch(ctx, events)
}

// Next ends the current session of peerID (if any) and re-enqueues both
// the leaver and its former partner.
func (m *Matchmaker) Next(ctx context.Context, peerID string) {
	m.mu.Lock()
	events := m.unpairLocked(peerID, nil)
	events = m.enqueueLocked(peerID, events)
	m.mu.Unlock()

	m.dispatch(ctx, events)
}

// Unpair ends the session of peerID. The partner is told chat:ended and is
// re-enqueued; peerID itself is not.
func (m *Matchmaker) Unpair(ctx context.Context, peerID string) {
	m.mu.Lock()
	events := m.unpairLocked(peerID, nil)
	m.mu.Unlock()

	m.dispatch(ctx, events)
}

// Disconnect forgets peerID. Safe to call more than once.
func (m *Matchmaker) Disconnect(ctx context.Context, peerID string) {
	m.mu.Lock()
	delete(m.connected, peerID)
	m.removeFromQueueLocked(peerID)
	events := m.unpairLocked(peerID, nil)
	m.registry.Forget(peerID)
	m.mu.Unlock()

	m.dispatch(ctx, events)
}

// SetMode records the peer's text/video mode and returns its partner, if
// any, for the informational partner:mode message.
func (m *Matchmaker) SetMode(peerID string, video bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected[peerID] {
		return "", false
	}
	m.registry.SetMode(peerID, video)
	return m.registry.Partner(peerID)
}

// Partner returns the current partner of peerID.
func (m *Matchmaker) Partner(peerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Partner(peerID)
}

// Queued reports whether peerID is in the waiting pool.
func (m *Matchmaker) Queued(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLocked(peerID) >= 0
}

// Sessions returns a snapshot of active sessions.
func (m *Matchmaker) Sessions() []models.SessionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions := m.registry.Sessions()
	out := make([]models.SessionRecord, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Record())
	}
	return out
}

// Stats fills the in-memory counters of models.Stats.
func (m *Matchmaker) Stats() models.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return models.Stats{
		Connected:      len(m.connected),
		Waiting:        len(m.queue),
		ActiveSessions: m.registry.Count(),
	}
}

func (m *Matchmaker) enqueueLocked(peerID string, events []sessionEvent) []sessionEvent {
	if !m.connected[peerID] || m.registry.Paired(peerID) {
		return events
	}

	for i, waiting := range m.queue {
		if waiting == peerID || !m.connected[waiting] || m.registry.Paired(waiting) {
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		m.removeFromQueueLocked(peerID)

		s := m.registry.Pair(waiting, peerID)
		m.notifyStartLocked(s)
		return append(events, sessionEvent{started: true, record: s.Record()})
	}

	if m.indexLocked(peerID) < 0 {
		m.queue = append(m.queue, peerID)
	}
	m.notifier.Notify(peerID, models.TypeQueueWaiting, nil)
	m.log.WithField("peer", peerID).Debug("Peer waiting for a partner")
	return events
}

func (m *Matchmaker) notifyStartLocked(s *Session) {
	m.notifier.Notify(s.Caller, models.TypeChatStart, models.ChatStartPayload{
		PartnerID:        s.Callee,
		Role:             models.RoleCaller,
		PartnerVideoMode: m.registry.VideoMode(s.Callee),
	})
	m.notifier.Notify(s.Callee, models.TypeChatStart, models.ChatStartPayload{
		PartnerID:        s.Caller,
		Role:             models.RoleCallee,
		PartnerVideoMode: m.registry.VideoMode(s.Caller),
	})

	m.log.WithFields(logrus.Fields{
		"session": s.ID,
		"caller":  s.Caller,
		"callee":  s.Callee,
	}).Info("Paired peers")
}

func (m *Matchmaker) unpairLocked(peerID string, events []sessionEvent) []sessionEvent {
	s, ok := m.registry.Remove(peerID)
	if !ok {
		return events
	}
	events = append(events, sessionEvent{record: s.Record()})

	partner := s.Partner(peerID)
	m.log.WithFields(logrus.Fields{
		"session": s.ID,
		"peer":    peerID,
		"partner": partner,
	}).Info("Session ended")

	if m.connected[partner] {
		m.notifier.Notify(partner, models.TypeChatEnded, nil)
		events = m.enqueueLocked(partner, events)
	}
	return events
}

func (m *Matchmaker) indexLocked(peerID string) int {
	for i, id := range m.queue {
		if id == peerID {
			return i
		}
	}
	return -1
}

func (m *Matchmaker) removeFromQueueLocked(peerID string) {
	if i := m.indexLocked(peerID); i >= 0 {
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
	}
}

func (m *Matchmaker) dispatch(ctx context.Context, events []sessionEvent) {
	for _, ev := range events {
		for _, o := range m.observers {
			if ev.started {
				o.SessionStarted(ctx, ev.record)
			} else {
				o.SessionEnded(ctx, ev.record)
			}
		}
	}
}
