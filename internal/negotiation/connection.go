package negotiation

import "context"

// Connection is the underlying media connection. All methods are
// synchronous; the engine never issues a second call before the first
// returns.
type Connection interface {
	CreateOffer() (Descriptor, error)
	CreateAnswer() (Descriptor, error)
	SetLocalDescription(d Descriptor) error
	SetRemoteDescription(d Descriptor) error
	// Rollback discards a local offer that has not been answered.
	Rollback() error
	AddCandidate(c Candidate) error
	// AttachMedia adds the local tracks. Attaching the same source twice
	// must not duplicate senders.
	AttachMedia(src MediaSource) error
	Close() error
}

// ConnectionFactory creates a fresh connection for one upgrade.
type ConnectionFactory func() (Connection, error)

// MediaSource is the captured local media.
type MediaSource interface {
	Close() error
}

// MediaAcquirer captures local media. Failure aborts the upgrade only.
type MediaAcquirer func(ctx context.Context) (MediaSource, error)

// Signaler sends local descriptors and candidates to the partner.
type Signaler interface {
	SendDescriptor(d Descriptor) error
	SendCandidate(c Candidate) error
}
