// Package mock provides in-memory mock implementations of the voice
// collaborator interfaces ([voice.CaptureDevice], [voice.MediaStream],
// [voice.PeerTransport], [voice.Signaler], [voice.AudioSink]) for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
package mock

import (
	"context"
	"sync"

	"github.com/momtouch/ansim/pkg/api"
	"github.com/momtouch/ansim/pkg/voice"
)

// ─── Track / Stream ───────────────────────────────────────────────────────────

// Track is a mock implementation of [voice.Track].
type Track struct {
	mu   sync.Mutex
	live bool
}

// NewLiveTrack returns a track in the live state.
func NewLiveTrack() *Track {
	return &Track{live: true}
}

// Live implements [voice.Track].
func (t *Track) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// End moves the track out of the live state.
func (t *Track) End() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live = false
}

// Stream is a mock implementation of [voice.MediaStream]. Closing it ends
// every track.
type Stream struct {
	mu sync.Mutex

	// TrackList holds the stream's tracks.
	TrackList []*Track

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a stream with n live tracks.
func NewStream(n int) *Stream {
	s := &Stream{}
	for i := 0; i < n; i++ {
		s.TrackList = append(s.TrackList, NewLiveTrack())
	}
	return s
}

// Tracks implements [voice.MediaStream].
func (s *Stream) Tracks() []voice.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]voice.Track, len(s.TrackList))
	for i, t := range s.TrackList {
		out[i] = t
	}
	return out
}

// Close implements [voice.MediaStream]. Ends all tracks and returns
// CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	for _, t := range s.TrackList {
		t.End()
	}
	return s.CloseError
}

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// CaptureCall records the arguments of a single Capture invocation.
type CaptureCall struct {
	Constraints voice.CaptureConstraints
}

// CaptureDevice is a mock implementation of [voice.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// CaptureResult is the stream returned by Capture.
	CaptureResult *Stream

	// CaptureError is the error returned by Capture.
	CaptureError error

	// CaptureCalls records all Capture invocations.
	CaptureCalls []CaptureCall
}

// Capture implements [voice.CaptureDevice].
func (d *CaptureDevice) Capture(_ context.Context, constraints voice.CaptureConstraints) (voice.MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CaptureCalls = append(d.CaptureCalls, CaptureCall{Constraints: constraints})
	if d.CaptureError != nil {
		return nil, d.CaptureError
	}
	return d.CaptureResult, nil
}

// ─── Signaler ─────────────────────────────────────────────────────────────────

// SessionCall records the arguments of a single CreateVoiceSession
// invocation.
type SessionCall struct {
	Request api.VoiceSessionRequest
}

// ExchangeCall records the arguments of a single ExchangeSDP invocation.
type ExchangeCall struct {
	Endpoint string
	Secret   string
	Offer    string
}

// Signaler is a mock implementation of [voice.Signaler].
type Signaler struct {
	mu sync.Mutex

	// SessionResult is returned by CreateVoiceSession.
	SessionResult *api.VoiceSession

	// SessionError is the error returned by CreateVoiceSession.
	SessionError error

	// SessionGate, when non-nil, is received from before
	// CreateVoiceSession returns. Tests use it to hold a session request
	// open while driving the session from another goroutine.
	SessionGate chan struct{}

	// AnswerResult is the SDP answer returned by ExchangeSDP.
	AnswerResult string

	// ExchangeError is the error returned by ExchangeSDP.
	ExchangeError error

	// SessionCalls records all CreateVoiceSession invocations.
	SessionCalls []SessionCall

	// ExchangeCalls records all ExchangeSDP invocations.
	ExchangeCalls []ExchangeCall
}

// CreateVoiceSession implements [voice.Signaler].
func (s *Signaler) CreateVoiceSession(_ context.Context, req api.VoiceSessionRequest) (*api.VoiceSession, error) {
	s.mu.Lock()
	s.SessionCalls = append(s.SessionCalls, SessionCall{Request: req})
	gate := s.SessionGate
	result, err := s.SessionResult, s.SessionError
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExchangeSDP implements [voice.Signaler].
func (s *Signaler) ExchangeSDP(_ context.Context, endpoint, secret, offer string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExchangeCalls = append(s.ExchangeCalls, ExchangeCall{Endpoint: endpoint, Secret: secret, Offer: offer})
	if s.ExchangeError != nil {
		return "", s.ExchangeError
	}
	return s.AnswerResult, nil
}

// ─── Transport ────────────────────────────────────────────────────────────────

// Transport is a mock implementation of [voice.PeerTransport]. To simulate
// remote activity in tests, call [Transport.EmitICEState],
// [Transport.EmitRemoteStream], or [Transport.EmitData].
type Transport struct {
	mu sync.Mutex

	// OfferResult is the SDP offer returned by CreateOffer.
	OfferResult string

	// OfferError is the error returned by CreateOffer.
	OfferError error

	// AttachError is the error returned by AttachLocalStream.
	AttachError error

	// AnswerError is the error returned by AcceptAnswer.
	AnswerError error

	// CloseError is the error returned by Close.
	CloseError error

	// AttachedStreams records the streams passed to AttachLocalStream.
	AttachedStreams []voice.MediaStream

	// AcceptedAnswers records the answers passed to AcceptAnswer.
	AcceptedAnswers []string

	// CallCountClose records how many times Close was called.
	CallCountClose int

	iceHandler    func(string)
	streamHandler func(voice.MediaStream)
	dataHandler   func([]byte)
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

// AttachLocalStream implements [voice.PeerTransport].
func (t *Transport) AttachLocalStream(stream voice.MediaStream) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AttachedStreams = append(t.AttachedStreams, stream)
	return t.AttachError
}

// CreateOffer implements [voice.PeerTransport].
func (t *Transport) CreateOffer(_ context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.OfferError != nil {
		return "", t.OfferError
	}
	if t.OfferResult == "" {
		return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n", nil
	}
	return t.OfferResult, nil
}

// AcceptAnswer implements [voice.PeerTransport].
func (t *Transport) AcceptAnswer(_ context.Context, answer string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.AcceptedAnswers = append(t.AcceptedAnswers, answer)
	return t.AnswerError
}

// Close implements [voice.PeerTransport].
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountClose++
	return t.CloseError
}

// EmitICEState invokes the registered ICE handler.
func (t *Transport) EmitICEState(state string) {
	t.mu.Lock()
	fn := t.iceHandler
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// EmitRemoteStream invokes the registered remote stream handler.
func (t *Transport) EmitRemoteStream(stream voice.MediaStream) {
	t.mu.Lock()
	fn := t.streamHandler
	t.mu.Unlock()
	if fn != nil {
		fn(stream)
	}
}

// EmitData invokes the registered data-channel handler.
func (t *Transport) EmitData(data []byte) {
	t.mu.Lock()
	fn := t.dataHandler
	t.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [voice.AudioSink].
type Sink struct {
	mu sync.Mutex

	// BindError is returned by Bind.
	BindError error

	// BoundStreams records all streams passed to Bind.
	BoundStreams []voice.MediaStream

	// CallCountUnbind records how many times Unbind was called.
	CallCountUnbind int
}

// Bind implements [voice.AudioSink].
func (s *Sink) Bind(stream voice.MediaStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BoundStreams = append(s.BoundStreams, stream)
	return s.BindError
}

// Unbind implements [voice.AudioSink].
func (s *Sink) Unbind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountUnbind++
}
