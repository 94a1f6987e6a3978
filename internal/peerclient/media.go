package peerclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/stranger-chat/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const silenceInterval = 20 * time.Millisecond

// opusSilence is a single 20ms Opus silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticMedia stands in for a camera and microphone: a VP8 video track
// that stays idle and an Opus track fed with silence.
type SyntheticMedia struct {
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// AcquireSynthetic is a negotiation.MediaAcquirer.
func AcquireSynthetic(ctx context.Context) (negotiation.MediaSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := "chatpeer-" + uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}, "audio", stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: 90000,
	}, "video", stream)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	m := &SyntheticMedia{Audio: audio, Video: video, stop: make(chan struct{})}
	m.wg.Add(1)
	go m.pumpSilence()
	return m, nil
}

func (m *SyntheticMedia) pumpSilence() {
	defer m.wg.Done()
	ticker := time.NewTicker(silenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			// Writes before the track is bound are dropped by pion.
			_ = m.Audio.WriteSample(media.Sample{Data: opusSilence, Duration: silenceInterval})
		}
	}
}

func (m *SyntheticMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.Audio, m.Video}
}

func (m *SyntheticMedia) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
	return nil
}
