package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/momtouch/ansim/pkg/voice"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// Compile-time assertion that CaptureDevice satisfies voice.CaptureDevice.
var _ voice.CaptureDevice = (*CaptureDevice)(nil)

// SampleSource supplies encoded audio samples (opus frames) for the
// local track. Next blocks until a sample is available and returns
// io.EOF when the source is exhausted.
type SampleSource interface {
	Next() (media.Sample, error)
	Close() error
}

// SourceOpener opens a sample source honoring the capture constraints.
// Implementations map a denied device to [voice.PermissionError].
type SourceOpener func(ctx context.Context, constraints voice.CaptureConstraints) (SampleSource, error)

// CaptureDevice adapts a [SampleSource] into a [voice.MediaStream]
// carrying a pion local audio track. The echo-cancellation family of
// constraints is the source's concern; the device only propagates them.
type CaptureDevice struct {
	open SourceOpener
}

// NewCaptureDevice creates a capture device backed by open.
func NewCaptureDevice(open SourceOpener) *CaptureDevice {
	return &CaptureDevice{open: open}
}

// Capture implements [voice.CaptureDevice]. It opens the source, wraps
// it in an opus local track, and starts the sample pump. The returned
// stream stays live until closed or the source is exhausted.
func (d *CaptureDevice) Capture(ctx context.Context, constraints voice.CaptureConstraints) (voice.MediaStream, error) {
	source, err := d.open(ctx, constraints)
	if err != nil {
		return nil, fmt.Errorf("rtc: open capture source: %w", err)
	}

	channels := uint16(constraints.ChannelCount)
	if channels == 0 {
		channels = 1
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  channels,
	}, "audio", "ansim-mic")
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("rtc: new local track: %w", err)
	}

	track := &captureTrack{local: local, live: true}
	stream := &captureStream{
		track:  track,
		source: source,
		done:   make(chan struct{}),
	}
	go stream.pump()
	return stream, nil
}

// captureTrack carries the pion local track into the transport via
// localTrackCarrier.
type captureTrack struct {
	local *webrtc.TrackLocalStaticSample

	mu   sync.Mutex
	live bool
}

func (t *captureTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

func (t *captureTrack) LocalTrack() webrtc.TrackLocal { return t.local }

func (t *captureTrack) end() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

type captureStream struct {
	track  *captureTrack
	source SampleSource

	closeOnce sync.Once
	done      chan struct{}
}

// pump feeds samples from the source into the local track until the
// source ends or the stream is closed.
func (s *captureStream) pump() {
	defer s.track.end()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		sample, err := s.source.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("capture source failed", "error", err)
			}
			return
		}
		if err := s.track.local.WriteSample(sample); err != nil {
			slog.Debug("capture write sample", "error", err)
			return
		}
	}
}

func (s *captureStream) Tracks() []voice.Track {
	return []voice.Track{s.track}
}

// Close stops the pump, ends the track, and releases the source.
// Idempotent.
func (s *captureStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.track.end()
		err = s.source.Close()
	})
	return err
}
