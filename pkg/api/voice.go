package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const voiceSessionPath = "/api/voice/sessions/"

// DefaultSessionMetadata is merged under caller-supplied metadata on every
// session request.
var DefaultSessionMetadata = map[string]string{
	"client":        "web",
	"clientVersion": "1.0.0",
	"locale":        "ko-KR",
}

// ClientSecret is the single-use credential issued with a voice session.
// Value authenticates exactly one SDP exchange and must never be retained
// in rendering state.
type ClientSecret struct {
	Value     string `json:"value,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

// VoiceSession is the server-issued descriptor for one realtime voice
// connection attempt.
type VoiceSession struct {
	ID                string        `json:"id"`
	ProviderSessionID string        `json:"provider_session_id"`
	Voice             string        `json:"voice"`
	ClientSecret      *ClientSecret `json:"client_secret"`
	WebRTCURL         string        `json:"webrtc_url"`
}

// Sanitized returns a copy safe to hand to rendering state: the secret
// value is stripped while its expiry is kept for display.
func (s *VoiceSession) Sanitized() *VoiceSession {
	out := *s
	if s.ClientSecret != nil {
		out.ClientSecret = &ClientSecret{ExpiresAt: s.ClientSecret.ExpiresAt}
	}
	return &out
}

// VoiceSessionRequest is the body for session issuance.
type VoiceSessionRequest struct {
	Metadata     map[string]string `json:"metadata"`
	Instructions string            `json:"instructions"`
}

// CreateVoiceSession requests a new voice session descriptor. Caller
// metadata is merged over [DefaultSessionMetadata]. The returned session
// still carries the one-time secret; callers take custody of it and should
// only expose the [VoiceSession.Sanitized] copy.
func (c *Client) CreateVoiceSession(ctx context.Context, req VoiceSessionRequest) (*VoiceSession, error) {
	metadata := make(map[string]string, len(DefaultSessionMetadata)+len(req.Metadata))
	for k, v := range DefaultSessionMetadata {
		metadata[k] = v
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	req.Metadata = metadata

	var session VoiceSession
	if err := c.postJSON(ctx, voiceSessionPath, req, &session, ""); err != nil {
		if apiErr, ok := err.(*Error); ok {
			apiErr.Message = "voice session request failed"
		}
		return nil, err
	}

	if session.ClientSecret == nil || session.ClientSecret.Value == "" || session.WebRTCURL == "" {
		return nil, &Error{Message: "malformed voice session response"}
	}
	return &session, nil
}

// ExchangeSDP posts the local offer's SDP to the session's exchange
// endpoint, authenticated with the one-time secret, and returns the remote
// answer SDP.
func (c *Client) ExchangeSDP(ctx context.Context, webrtcURL, secret, offerSDP string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webrtcURL, strings.NewReader(offerSDP))
	if err != nil {
		return "", &Error{Message: fmt.Sprintf("build sdp request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &Error{Message: fmt.Sprintf("sdp exchange failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Status: resp.StatusCode, Message: fmt.Sprintf("read sdp answer: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Status:  resp.StatusCode,
			Message: "sdp exchange rejected",
			Detail:  string(body),
		}
	}
	return string(body), nil
}
