package peerclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mossy-p/stranger-chat/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var errUnsupportedMedia = errors.New("unsupported media source")

// TrackSource is media that can be attached to a pion connection.
type TrackSource interface {
	negotiation.MediaSource
	Tracks() []webrtc.TrackLocal
}

// Connection adapts a pion PeerConnection to negotiation.Connection.
type Connection struct {
	pc       *webrtc.PeerConnection
	attached map[string]bool
}

// Callbacks receive pion events. They run on pion goroutines.
type Callbacks struct {
	OnCandidate   func(negotiation.Candidate)
	OnTrack       func(kind string)
	OnStateChange func(webrtc.PeerConnectionState)
}

// NewConnectionFactory builds pion connections using the given STUN/TURN
// urls.
func NewConnectionFactory(iceServers []string, cb Callbacks, log logrus.FieldLogger) negotiation.ConnectionFactory {
	return func() (negotiation.Connection, error) {
		var servers []webrtc.ICEServer
		if len(iceServers) > 0 {
			servers = []webrtc.ICEServer{{URLs: iceServers}}
		}

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		if err != nil {
			return nil, fmt.Errorf("create peer connection: %w", err)
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || cb.OnCandidate == nil {
				return
			}
			data, err := json.Marshal(c.ToJSON())
			if err != nil {
				log.WithError(err).Warn("Failed to encode ICE candidate")
				return
			}
			cb.OnCandidate(negotiation.Candidate(data))
		})

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.WithField("kind", track.Kind().String()).Info("Remote track")
			if cb.OnTrack != nil {
				cb.OnTrack(track.Kind().String())
			}
		})

		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			log.WithField("state", state.String()).Debug("Peer connection state")
			if cb.OnStateChange != nil {
				cb.OnStateChange(state)
			}
		})

		return &Connection{pc: pc, attached: make(map[string]bool)}, nil
	}
}

func (c *Connection) CreateOffer() (negotiation.Descriptor, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return negotiation.Descriptor{}, err
	}
	return fromPion(offer), nil
}

func (c *Connection) CreateAnswer() (negotiation.Descriptor, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return negotiation.Descriptor{}, err
	}
	return fromPion(answer), nil
}

func (c *Connection) SetLocalDescription(d negotiation.Descriptor) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return c.pc.SetLocalDescription(desc)
}

func (c *Connection) SetRemoteDescription(d negotiation.Descriptor) error {
	desc, err := toPion(d)
	if err != nil {
		return err
	}
	return c.pc.SetRemoteDescription(desc)
}

// Rollback discards the pending local offer. pion parses the SDP of a
// rollback description, so the pending offer is passed back.
func (c *Connection) Rollback() error {
	pending := c.pc.PendingLocalDescription()
	if pending == nil {
		return nil
	}
	return c.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeRollback,
		SDP:  pending.SDP,
	})
}

func (c *Connection) AddCandidate(cand negotiation.Candidate) error {
	var ice webrtc.ICECandidateInit
	if err := json.Unmarshal(cand, &ice); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	return c.pc.AddICECandidate(ice)
}

// AttachMedia adds each track once.
func (c *Connection) AttachMedia(src negotiation.MediaSource) error {
	ts, ok := src.(TrackSource)
	if !ok {
		return errUnsupportedMedia
	}
	for _, track := range ts.Tracks() {
		if c.attached[track.ID()] {
			continue
		}
		if _, err := c.pc.AddTrack(track); err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		c.attached[track.ID()] = true
	}
	return nil
}

func (c *Connection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *Connection) Close() error {
	return c.pc.Close()
}

func fromPion(d webrtc.SessionDescription) negotiation.Descriptor {
	return negotiation.Descriptor{Type: negotiation.DescriptorType(d.Type.String()), SDP: d.SDP}
}

func toPion(d negotiation.Descriptor) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(string(d.Type))
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, fmt.Errorf("unknown descriptor type %q", d.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}
