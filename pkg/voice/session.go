package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/momtouch/ansim/pkg/api"
	"github.com/momtouch/ansim/pkg/transcript"
)

// DefaultSTUNServers is the public STUN list used when none is configured.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

const msgTransportClosed = "WebRTC 연결이 종료되었습니다."

// State is a point-in-time snapshot of the session's observable state.
type State struct {
	Status          Status
	Err             error
	Session         *api.VoiceSession
	ICEState        string
	MediaPermission MediaPermission
	Transcripts     []transcript.Entry
	LastEvent       *transcript.Event
}

// Option is a functional option for configuring a Session.
type Option func(*Session)

// WithSTUNServers overrides the STUN server list.
func WithSTUNServers(servers []string) Option {
	return func(s *Session) { s.stunServers = servers }
}

// WithInstructions sets the assistant instructions sent with the session
// request.
func WithInstructions(instructions string) Option {
	return func(s *Session) { s.instructions = instructions }
}

// WithMetadata sets per-session metadata merged over the signaler's
// defaults.
func WithMetadata(metadata map[string]string) Option {
	return func(s *Session) { s.metadata = metadata }
}

// WithOnUpdate registers a callback invoked with a fresh snapshot after
// every state change.
func WithOnUpdate(fn func(State)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// Session is the voice assistant connection state machine.
//
//	idle → acquiring_media → requesting_session → connecting → connected
//
// Any step failing transitions to error with acquired resources released.
// All methods are safe for concurrent use; at most one connection attempt
// is in flight per Session.
type Session struct {
	capture      CaptureDevice
	signaler     Signaler
	newTransport TransportFactory
	stunServers  []string
	instructions string
	metadata     map[string]string
	onUpdate     func(State)

	mu           sync.Mutex
	gen          uint64
	status       Status
	err          error
	session      *api.VoiceSession
	iceState     string
	permission   MediaPermission
	localStream  MediaStream
	remoteStream MediaStream
	transport    PeerTransport
	sink         AudioSink
	secret       string
	lastEvent    *transcript.Event
	reducer      *transcript.Reducer
}

// NewSession creates a Session wired to the given collaborators.
func NewSession(capture CaptureDevice, signaler Signaler, factory TransportFactory, opts ...Option) *Session {
	s := &Session{
		capture:      capture,
		signaler:     signaler,
		newTransport: factory,
		stunServers:  DefaultSTUNServers,
		status:       StatusIdle,
		iceState:     "new",
		permission:   PermissionUnknown,
		reducer:      transcript.NewReducer(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Connect runs the full negotiation. It returns immediately without error
// when a connection is already established or in flight. ctx cancels the
// outstanding session request. A Disconnect arriving while Connect is
// suspended on a collaborator call supersedes the attempt: Connect aborts
// at its next checkpoint, releases anything it acquired, and returns nil
// with the session left idle.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusConnected || s.isConnectingLocked() {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	gen := s.gen
	s.err = nil
	s.lastEvent = nil
	s.reducer.Reset()
	s.status = StatusAcquiringMedia
	s.mu.Unlock()
	s.notify()

	localStream, err := s.capture.Capture(ctx, CaptureConstraints{
		ChannelCount:     1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		var perr *PermissionError
		if !errors.As(err, &perr) {
			err = &PermissionError{Err: err}
		}
		s.failAttempt(gen, err, func() {
			s.permission = PermissionDenied
		})
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		localStream.Close()
		return nil
	}
	s.permission = PermissionGranted
	s.localStream = localStream
	s.status = StatusRequestingSession
	s.mu.Unlock()
	s.notify()

	rawSession, err := s.signaler.CreateVoiceSession(ctx, api.VoiceSessionRequest{
		Instructions: s.instructions,
		Metadata:     s.metadata,
	})
	if err != nil {
		err = fmt.Errorf("voice: session request: %w", err)
		s.failAttempt(gen, err, s.releaseMediaLocked)
		return err
	}
	secret := rawSession.ClientSecret.Value

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.secret = secret
	s.session = rawSession.Sanitized()
	s.mu.Unlock()

	transport, err := s.newTransport(s.stunServers)
	if err != nil {
		err = fmt.Errorf("voice: peer transport: %w", err)
		s.failAttempt(gen, err, func() {
			s.secret = ""
			s.releaseMediaLocked()
		})
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		transport.Close()
		return nil
	}
	s.transport = transport
	s.status = StatusConnecting
	s.mu.Unlock()

	transport.OnICEStateChange(s.handleICEState)
	transport.OnRemoteStream(s.handleRemoteStream)
	transport.OnDataMessage(s.handleDataMessage)
	s.notify()

	if err := s.negotiate(ctx, transport, localStream, rawSession.WebRTCURL, secret); err != nil {
		s.failAttempt(gen, err, func() {
			s.secret = ""
			s.releaseMediaLocked()
		})
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.secret = ""
	s.status = StatusConnected
	s.mu.Unlock()
	s.notify()
	return nil
}

// negotiate attaches the captured local media and runs the SDP
// offer/answer round trip using the one-time secret as the bearer
// credential. The stream and secret are the values this attempt acquired,
// not re-read from the session, so a concurrent Disconnect cannot swap
// them out from under the negotiation.
func (s *Session) negotiate(ctx context.Context, transport PeerTransport, localStream MediaStream, endpoint, secret string) error {
	if err := transport.AttachLocalStream(localStream); err != nil {
		return fmt.Errorf("voice: attach local stream: %w", err)
	}

	offer, err := transport.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("voice: create offer: %w", err)
	}

	answer, err := s.signaler.ExchangeSDP(ctx, endpoint, secret, offer)
	if err != nil {
		return fmt.Errorf("voice: sdp exchange: %w", err)
	}

	if err := transport.AcceptAnswer(ctx, answer); err != nil {
		return fmt.Errorf("voice: accept answer: %w", err)
	}
	return nil
}

// Disconnect unconditionally releases all resources and returns the
// session to idle. Safe to call from any state and more than once; owners
// must call it on teardown so the microphone and peer connection are not
// leaked.
func (s *Session) Disconnect() {
	s.mu.Lock()
	// An in-flight Connect observes the bumped generation and aborts at
	// its next checkpoint instead of resurrecting the session.
	s.gen++
	active := s.status == StatusConnected || s.status == StatusConnecting || s.status == StatusError
	if active {
		s.status = StatusDisconnecting
	}
	s.releaseMediaLocked()
	s.secret = ""
	s.session = nil
	s.reducer.Reset()
	s.lastEvent = nil
	s.status = StatusIdle
	s.mu.Unlock()
	s.notify()
}

// AttachSink binds an audio sink for remote playback. If a remote stream
// already exists it is bound immediately; bind failures are logged and
// swallowed, matching autoplay semantics.
func (s *Session) AttachSink(sink AudioSink) {
	s.mu.Lock()
	s.sink = sink
	remote := s.remoteStream
	s.mu.Unlock()

	if sink != nil && remote != nil {
		if err := sink.Bind(remote); err != nil {
			slog.Warn("voice sink bind failed", "error", err)
		}
	}
}

// State returns a snapshot of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Status:          s.status,
		Err:             s.err,
		Session:         s.session,
		ICEState:        s.iceState,
		MediaPermission: s.permission,
		Transcripts:     s.reducer.Entries(),
		LastEvent:       s.lastEvent,
	}
}

// IsConnecting reports whether a connection attempt is in flight.
func (s *Session) IsConnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnectingLocked()
}

// LocalStreamActive reports whether the microphone stream has at least
// one live track. Derived at read time, not stored.
func (s *Session) LocalStreamActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return streamActive(s.localStream)
}

// RemoteStreamActive reports whether the remote stream has at least one
// live track.
func (s *Session) RemoteStreamActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return streamActive(s.remoteStream)
}

func (s *Session) isConnectingLocked() bool {
	switch s.status {
	case StatusAcquiringMedia, StatusRequestingSession, StatusConnecting:
		return true
	}
	return false
}

func streamActive(stream MediaStream) bool {
	if stream == nil {
		return false
	}
	for _, track := range stream.Tracks() {
		if track.Live() {
			return true
		}
	}
	return false
}

// failAttempt records err, runs extra cleanup under the lock, and
// transitions to error. It is a no-op when gen no longer matches the
// current generation: a later Disconnect already tore the attempt down
// and the session must stay idle.
func (s *Session) failAttempt(gen uint64, err error, cleanup func()) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.err = err
	if cleanup != nil {
		cleanup()
	}
	s.status = StatusError
	s.mu.Unlock()
	s.notify()
}

// releaseMediaLocked tears down the transport and local capture. Close
// errors are swallowed since the resources are being discarded anyway.
// Idempotent; caller holds s.mu.
func (s *Session) releaseMediaLocked() {
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			slog.Debug("voice transport close", "error", err)
		}
		s.transport = nil
	}
	if s.localStream != nil {
		if err := s.localStream.Close(); err != nil {
			slog.Debug("voice local stream close", "error", err)
		}
		s.localStream = nil
	}
	s.remoteStream = nil
	if s.sink != nil {
		s.sink.Unbind()
	}
	s.iceState = "new"
}

// ── transport event handlers ───────────────────────────────────────────────────

func (s *Session) handleICEState(state string) {
	s.mu.Lock()
	s.iceState = state
	failed := state == "failed" || state == "disconnected"
	if failed {
		s.status = StatusError
		s.err = fmt.Errorf("voice: %s (ice state %q)", msgTransportClosed, state)
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleRemoteStream(stream MediaStream) {
	s.mu.Lock()
	s.remoteStream = stream
	sink := s.sink
	s.mu.Unlock()
	s.notify()

	if sink != nil {
		if err := sink.Bind(stream); err != nil {
			slog.Warn("voice sink bind failed", "error", err)
		}
	}
}

func (s *Session) handleDataMessage(data []byte) {
	evt := transcript.ParseEvent(data)

	s.mu.Lock()
	s.lastEvent = &evt
	s.reducer.Apply(evt)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.onUpdate == nil {
		return
	}
	s.onUpdate(s.State())
}
