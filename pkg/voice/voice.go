// Package voice implements the real-time voice assistant session: it
// acquires microphone capture, negotiates a session descriptor with the
// signaling backend, drives the peer-to-peer audio transport through SDP
// offer/answer, and reduces data-channel events into an incremental
// transcript.
//
// The two collaborator abstractions are:
//
//   - [CaptureDevice] — acquires a local microphone [MediaStream].
//   - [PeerTransport] — the peer connection (SDP negotiation, ICE state,
//     media tracks, data channel).
//
// Both are intentionally narrow so the session state machine stays
// decoupled from the pion/webrtc dependency; the concrete implementation
// lives in voice/rtc and test doubles in voice/mock.
package voice

import (
	"context"

	"github.com/momtouch/ansim/pkg/api"
)

// Status is the observable state of a voice session.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusAcquiringMedia    Status = "acquiring_media"
	StatusRequestingSession Status = "requesting_session"
	StatusConnecting        Status = "connecting"
	StatusConnected         Status = "connected"
	StatusDisconnecting     Status = "disconnecting"
	StatusError             Status = "error"
)

// MediaPermission records the outcome of the last microphone request.
type MediaPermission string

const (
	PermissionUnknown MediaPermission = "unknown"
	PermissionGranted MediaPermission = "granted"
	PermissionDenied  MediaPermission = "denied"
)

// CaptureConstraints configures microphone acquisition.
type CaptureConstraints struct {
	ChannelCount     int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Track is a single media track within a stream.
type Track interface {
	// Live reports whether the track is still producing media.
	Live() bool
}

// MediaStream is a group of media tracks, local or remote.
type MediaStream interface {
	Tracks() []Track

	// Close stops every track and releases the underlying device.
	Close() error
}

// CaptureDevice acquires local media.
type CaptureDevice interface {
	// Capture requests a microphone-only stream honoring the given
	// constraints. A denial is returned as a [PermissionError].
	Capture(ctx context.Context, constraints CaptureConstraints) (MediaStream, error)
}

// Signaler issues voice session descriptors and exchanges SDP with the
// backend. *api.Client satisfies this.
type Signaler interface {
	CreateVoiceSession(ctx context.Context, req api.VoiceSessionRequest) (*api.VoiceSession, error)
	ExchangeSDP(ctx context.Context, endpoint, secret, offer string) (string, error)
}

// PeerTransport abstracts the WebRTC peer connection. Handler
// registration must happen before AttachLocalStream/CreateOffer so no
// early event is lost.
type PeerTransport interface {
	// OnICEStateChange registers the handler invoked on every ICE
	// connection state transition ("checking", "connected", "failed", …).
	OnICEStateChange(fn func(state string))

	// OnRemoteStream registers the handler invoked when the remote party
	// adds a media stream.
	OnRemoteStream(fn func(MediaStream))

	// OnDataMessage registers the handler for inbound data-channel
	// payloads.
	OnDataMessage(fn func(data []byte))

	// AttachLocalStream adds all tracks of the local stream to the peer
	// connection.
	AttachLocalStream(stream MediaStream) error

	// CreateOffer builds an SDP offer (audio receive enabled, video
	// disabled) and sets it as the local description.
	CreateOffer(ctx context.Context) (string, error)

	// AcceptAnswer applies the remote SDP answer.
	AcceptAnswer(ctx context.Context, answer string) error

	// Close tears down the data channel and peer connection. Idempotent.
	Close() error
}

// TransportFactory builds a PeerTransport for the given STUN server list.
type TransportFactory func(stunServers []string) (PeerTransport, error)

// AudioSink plays back a remote media stream.
type AudioSink interface {
	Bind(stream MediaStream) error
	Unbind()
}

// PermissionError reports that microphone access was denied.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return "voice: microphone access denied: " + e.Err.Error()
}

func (e *PermissionError) Unwrap() error { return e.Err }
