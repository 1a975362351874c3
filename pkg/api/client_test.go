package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/momtouch/ansim/pkg/api"
)

func TestCreateVoiceSession(t *testing.T) {
	t.Parallel()

	t.Run("success merges metadata and validates shape", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotAuth string
		var gotBody struct {
			Metadata     map[string]string `json:"metadata"`
			Instructions string            `json:"instructions"`
		}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":                  "sess-1",
				"provider_session_id": "prov-1",
				"voice":               "sage",
				"client_secret":       map[string]any{"value": "one-time", "expires_at": 1700000000},
				"webrtc_url":          "https://realtime.example/sdp",
			})
		}))
		t.Cleanup(srv.Close)

		client := api.New(srv.URL, api.WithAccessToken("tok"))
		session, err := client.CreateVoiceSession(context.Background(), api.VoiceSessionRequest{
			Instructions: "천천히 말해 주세요",
			Metadata:     map[string]string{"locale": "ko-KP", "week": "20"},
		})
		if err != nil {
			t.Fatalf("CreateVoiceSession: %v", err)
		}

		if gotPath != "/api/voice/sessions/" {
			t.Errorf("path = %q", gotPath)
		}
		if gotAuth != "Bearer tok" {
			t.Errorf("auth = %q; want bearer token", gotAuth)
		}
		if gotBody.Instructions != "천천히 말해 주세요" {
			t.Errorf("instructions = %q", gotBody.Instructions)
		}
		// Caller metadata overrides defaults; untouched defaults remain.
		if gotBody.Metadata["locale"] != "ko-KP" || gotBody.Metadata["client"] != "web" || gotBody.Metadata["week"] != "20" {
			t.Errorf("metadata = %v", gotBody.Metadata)
		}

		if session.ClientSecret.Value != "one-time" || session.WebRTCURL != "https://realtime.example/sdp" {
			t.Errorf("session = %+v", session)
		}
	})

	t.Run("missing client_secret is a malformed response", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"webrtc_url": "https://x"})
		}))
		t.Cleanup(srv.Close)

		_, err := api.New(srv.URL).CreateVoiceSession(context.Background(), api.VoiceSessionRequest{})
		var apiErr *api.Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %v; want *api.Error", err)
		}
		if !strings.Contains(apiErr.Message, "malformed") {
			t.Errorf("message = %q", apiErr.Message)
		}
	})

	t.Run("server error carries status and detail", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
		}))
		t.Cleanup(srv.Close)

		_, err := api.New(srv.URL).CreateVoiceSession(context.Background(), api.VoiceSessionRequest{})
		var apiErr *api.Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %v; want *api.Error", err)
		}
		if apiErr.Status != http.StatusTooManyRequests {
			t.Errorf("status = %d", apiErr.Status)
		}
		if !strings.Contains(apiErr.Detail, "quota") {
			t.Errorf("detail = %q", apiErr.Detail)
		}
	})

	t.Run("cancellation propagates as context error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(srv.Close)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := api.New(srv.URL).CreateVoiceSession(ctx, api.VoiceSessionRequest{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v; want context.Canceled", err)
		}
	})
}

func TestVoiceSession_Sanitized(t *testing.T) {
	t.Parallel()

	session := &api.VoiceSession{
		ID:           "sess-1",
		ClientSecret: &api.ClientSecret{Value: "secret", ExpiresAt: 42},
		WebRTCURL:    "https://x",
	}
	clean := session.Sanitized()

	if clean.ClientSecret.Value != "" {
		t.Error("sanitized copy must not carry the secret value")
	}
	if clean.ClientSecret.ExpiresAt != 42 {
		t.Error("expiry should survive sanitization")
	}
	if session.ClientSecret.Value != "secret" {
		t.Error("original must be untouched")
	}
}

func TestExchangeSDP(t *testing.T) {
	t.Parallel()

	t.Run("posts offer with bearer secret", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ct := r.Header.Get("Content-Type"); ct != "application/sdp" {
				t.Errorf("content-type = %q", ct)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer one-time" {
				t.Errorf("auth = %q", auth)
			}
			offer, _ := io.ReadAll(r.Body)
			if !strings.HasPrefix(string(offer), "v=0") {
				t.Errorf("offer body = %q", offer)
			}
			_, _ = w.Write([]byte("v=0\r\nanswer"))
		}))
		t.Cleanup(srv.Close)

		answer, err := api.New("https://unused.example").ExchangeSDP(
			context.Background(), srv.URL, "one-time", "v=0\r\noffer")
		if err != nil {
			t.Fatalf("ExchangeSDP: %v", err)
		}
		if answer != "v=0\r\nanswer" {
			t.Errorf("answer = %q", answer)
		}
	})

	t.Run("non-success status carries body as detail", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "secret already used", http.StatusUnauthorized)
		}))
		t.Cleanup(srv.Close)

		_, err := api.New("https://unused.example").ExchangeSDP(
			context.Background(), srv.URL, "stale", "v=0")
		var apiErr *api.Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("err = %v; want *api.Error", err)
		}
		if apiErr.Status != http.StatusUnauthorized || !strings.Contains(apiErr.Detail, "already used") {
			t.Errorf("err = %+v", apiErr)
		}
	})
}

func TestRecognizeFood(t *testing.T) {
	t.Parallel()

	t.Run("short image is rejected before any network call", func(t *testing.T) {
		t.Parallel()
		client := api.New("http://127.0.0.1:1") // would fail if dialled
		_, err := client.RecognizeFood(context.Background(), "tiny")
		if !errors.Is(err, api.ErrInvalidImage) {
			t.Errorf("err = %v; want ErrInvalidImage", err)
		}
	})

	t.Run("forwards image and returns opaque result", func(t *testing.T) {
		t.Parallel()
		image := strings.Repeat("A", api.MinImageLength)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/vision/foods/recognize/" {
				t.Errorf("path = %q", r.URL.Path)
			}
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["image_base64"] != image {
				t.Error("image not forwarded verbatim")
			}
			_, _ = w.Write([]byte(`{"food_name":"김밥","safety_info":{"is_safe":false}}`))
		}))
		t.Cleanup(srv.Close)

		result, err := api.New(srv.URL).RecognizeFood(context.Background(), image)
		if err != nil {
			t.Fatalf("RecognizeFood: %v", err)
		}
		if result["food_name"] != "김밥" {
			t.Errorf("result = %v", result)
		}
	})
}

func TestListStyles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/user-styles/list-styles/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":"standard","name":"표준어"},{"id":"jeju","name":"제주 방언"}]`))
	}))
	t.Cleanup(srv.Close)

	styles, err := api.New(srv.URL).ListStyles(context.Background())
	if err != nil {
		t.Fatalf("ListStyles: %v", err)
	}
	if len(styles) != 2 || styles[0].ID != "standard" || styles[1].Name != "제주 방언" {
		t.Errorf("styles = %v; order must be preserved", styles)
	}
}
