// Package rtc provides the pion/webrtc-backed implementations of the
// voice collaborator interfaces: [Transport] for [voice.PeerTransport]
// and the sample-fed capture device in capture.go.
package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/momtouch/ansim/pkg/voice"
	"github.com/pion/webrtc/v3"
)

// Compile-time assertion that Transport satisfies voice.PeerTransport.
var _ voice.PeerTransport = (*Transport)(nil)

// localTrackCarrier is implemented by tracks that wrap a pion local
// track. The rtc capture device produces such tracks.
type localTrackCarrier interface {
	LocalTrack() webrtc.TrackLocal
}

// Transport drives a pion peer connection: recvonly audio transceiver,
// local track attachment, non-trickle SDP offer/answer, and the remote
// data channel.
type Transport struct {
	pc *webrtc.PeerConnection

	mu            sync.Mutex
	dataChannel   *webrtc.DataChannel
	remote        *remoteStream
	closed        bool
	iceHandler    func(string)
	streamHandler func(voice.MediaStream)
	dataHandler   func([]byte)
}

// NewTransport creates a peer connection configured with the given STUN
// servers and a receive-only audio transceiver. It satisfies
// [voice.TransportFactory].
func NewTransport(stunServers []string) (voice.PeerTransport, error) {
	config := webrtc.Configuration{}
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("rtc: add audio transceiver: %w", err)
	}

	t := &Transport{pc: pc}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.mu.Lock()
		fn := t.iceHandler
		t.mu.Unlock()
		if fn != nil {
			fn(state.String())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.handleRemoteTrack(track)
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.mu.Lock()
		t.dataChannel = dc
		t.mu.Unlock()
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			t.mu.Lock()
			fn := t.dataHandler
			t.mu.Unlock()
			if fn != nil {
				fn(msg.Data)
			}
		})
	})

	return t, nil
}

// OnICEStateChange implements [voice.PeerTransport].
func (t *Transport) OnICEStateChange(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.iceHandler = fn
}

// OnRemoteStream implements [voice.PeerTransport].
func (t *Transport) OnRemoteStream(fn func(voice.MediaStream)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streamHandler = fn
}

// OnDataMessage implements [voice.PeerTransport].
func (t *Transport) OnDataMessage(fn func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dataHandler = fn
}

// AttachLocalStream implements [voice.PeerTransport]. Every track must
// carry a pion local track (see the capture device in this package).
func (t *Transport) AttachLocalStream(stream voice.MediaStream) error {
	for _, track := range stream.Tracks() {
		carrier, ok := track.(localTrackCarrier)
		if !ok {
			return fmt.Errorf("rtc: track %T does not carry an RTP track", track)
		}
		if _, err := t.pc.AddTrack(carrier.LocalTrack()); err != nil {
			return fmt.Errorf("rtc: add track: %w", err)
		}
	}
	return nil
}

// CreateOffer implements [voice.PeerTransport]. The SDP exchange is a
// single HTTP round trip, so the offer is non-trickle: gathering runs to
// completion (bounded by ctx) before the local description is returned.
func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("rtc: create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("rtc: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", fmt.Errorf("rtc: ice gathering: %w", ctx.Err())
	}

	local := t.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("rtc: no local description after gathering")
	}
	return local.SDP, nil
}

// AcceptAnswer implements [voice.PeerTransport].
func (t *Transport) AcceptAnswer(_ context.Context, answer string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}
	if err := t.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("rtc: set remote description: %w", err)
	}
	return nil
}

// Close implements [voice.PeerTransport]. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	dc := t.dataChannel
	t.mu.Unlock()

	if dc != nil {
		dc.Close()
	}
	if err := t.pc.Close(); err != nil {
		return fmt.Errorf("rtc: close peer connection: %w", err)
	}
	return nil
}

func (t *Transport) handleRemoteTrack(track *webrtc.TrackRemote) {
	t.mu.Lock()
	if t.remote == nil {
		t.remote = &remoteStream{transport: t}
	}
	stream := t.remote
	stream.add(&remoteTrack{transport: t})
	fn := t.streamHandler
	t.mu.Unlock()

	// The receiver buffer must be drained even when no sink consumes
	// the media.
	go func() {
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
		}
	}()

	if fn != nil {
		fn(stream)
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// remoteStream groups the remote party's tracks. Closing it is a no-op:
// remote media stops when the transport closes.
type remoteStream struct {
	transport *Transport

	mu     sync.Mutex
	tracks []voice.Track
}

func (s *remoteStream) add(track voice.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

func (s *remoteStream) Tracks() []voice.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]voice.Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *remoteStream) Close() error { return nil }

type remoteTrack struct {
	transport *Transport
}

func (t *remoteTrack) Live() bool { return !t.transport.isClosed() }
