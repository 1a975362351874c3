package rtc_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momtouch/ansim/pkg/voice"
	"github.com/momtouch/ansim/pkg/voice/mock"
	"github.com/momtouch/ansim/pkg/voice/rtc"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// blockingSource blocks in Next until the source is closed, then
// reports EOF.
type blockingSource struct {
	closeOnce  sync.Once
	done       chan struct{}
	closeCalls int
}

func newBlockingSource() *blockingSource {
	return &blockingSource{done: make(chan struct{})}
}

func (s *blockingSource) Next() (media.Sample, error) {
	<-s.done
	return media.Sample{}, context.Canceled // surfaced as a non-EOF end in logs only
}

func (s *blockingSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.closeCalls++
	return nil
}

func openBlocking(src *blockingSource) rtc.SourceOpener {
	return func(context.Context, voice.CaptureConstraints) (rtc.SampleSource, error) {
		return src, nil
	}
}

func TestTransport_OfferHasRecvonlyAudio(t *testing.T) {
	t.Parallel()

	transport, err := rtc.NewTransport(nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { transport.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(offer, "m=audio") {
		t.Error("offer has no audio media section")
	}
	if !strings.Contains(offer, "a=recvonly") {
		t.Error("offer audio section is not receive-only")
	}
}

func TestTransport_AttachLocalStreamAndNegotiate(t *testing.T) {
	t.Parallel()

	transport, err := rtc.NewTransport(nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { transport.Close() })

	device := rtc.NewCaptureDevice(openBlocking(newBlockingSource()))
	stream, err := device.Capture(context.Background(), voice.CaptureConstraints{ChannelCount: 1})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	t.Cleanup(func() { stream.Close() })

	if err := transport.AttachLocalStream(stream); err != nil {
		t.Fatalf("AttachLocalStream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if !strings.Contains(strings.ToLower(offer), "opus") {
		t.Error("offer does not negotiate opus")
	}

	// Answer with a plain pion peer to exercise the full SDP round trip.
	answerer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	t.Cleanup(func() { answerer.Close() })

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}
	if err := answerer.SetRemoteDescription(remoteOffer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	answer, err := answerer.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := answerer.SetLocalDescription(answer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}

	if err := transport.AcceptAnswer(ctx, answer.SDP); err != nil {
		t.Fatalf("AcceptAnswer: %v", err)
	}
}

func TestTransport_AttachRejectsForeignTracks(t *testing.T) {
	t.Parallel()

	transport, err := rtc.NewTransport(nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	t.Cleanup(func() { transport.Close() })

	err = transport.AttachLocalStream(mock.NewStream(1))
	if err == nil || !strings.Contains(err.Error(), "does not carry") {
		t.Errorf("err = %v; want carrier rejection", err)
	}
}

func TestTransport_CloseIdempotent(t *testing.T) {
	t.Parallel()

	transport, err := rtc.NewTransport(nil)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCaptureStream_Lifecycle(t *testing.T) {
	t.Parallel()

	src := newBlockingSource()
	device := rtc.NewCaptureDevice(openBlocking(src))

	stream, err := device.Capture(context.Background(), voice.CaptureConstraints{
		ChannelCount:     1,
		EchoCancellation: true,
	})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	tracks := stream.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("tracks = %d; want 1", len(tracks))
	}
	if !tracks[0].Live() {
		t.Error("track should be live after capture")
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tracks[0].Live() {
		t.Error("track should end on close")
	}
	if src.closeCalls == 0 {
		t.Error("source must be released")
	}

	// Idempotent.
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCaptureDevice_OpenFailure(t *testing.T) {
	t.Parallel()

	device := rtc.NewCaptureDevice(func(context.Context, voice.CaptureConstraints) (rtc.SampleSource, error) {
		return nil, &voice.PermissionError{Err: context.Canceled}
	})
	_, err := device.Capture(context.Background(), voice.CaptureConstraints{})
	if err == nil || !strings.Contains(err.Error(), "open capture source") {
		t.Errorf("err = %v", err)
	}
}
