// Package app wires all Ansim subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the admin server and config watcher, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithCaptureDevice, WithTransportFactory, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/momtouch/ansim/internal/config"
	"github.com/momtouch/ansim/internal/health"
	"github.com/momtouch/ansim/internal/observe"
	"github.com/momtouch/ansim/internal/resilience"
	"github.com/momtouch/ansim/pkg/api"
	"github.com/momtouch/ansim/pkg/chat"
	"github.com/momtouch/ansim/pkg/voice"
	"github.com/momtouch/ansim/pkg/voice/rtc"
)

// App owns all subsystem lifetimes and exposes the chat and voice surfaces.
type App struct {
	cfg *config.Config

	api     *api.Client
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics
	voice   *voice.Session
	chats   *ChatRegistry

	capture   voice.CaptureDevice
	transport voice.TransportFactory

	adminSrv *http.Server

	// logLevel backs the hot-reloadable slog level.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAPIClient injects a backend client instead of creating one from config.
func WithAPIClient(c *api.Client) Option {
	return func(a *App) { a.api = c }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCaptureDevice injects a microphone capture device.
func WithCaptureDevice(d voice.CaptureDevice) Option {
	return func(a *App) { a.capture = d }
}

// WithTransportFactory injects a WebRTC transport factory.
func WithTransportFactory(f voice.TransportFactory) Option {
	return func(a *App) { a.transport = f }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The config must have
// passed [config.Validate]. Use Option functions to inject test doubles for
// any subsystem.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		logLevel: new(slog.LevelVar),
	}
	for _, o := range opts {
		o(a)
	}

	a.initLogging()

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.api == nil {
		a.api = api.New(cfg.API.BaseURL, api.WithAccessToken(cfg.API.AccessToken))
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "backend"})

	if a.capture == nil {
		a.capture = rtc.NewCaptureDevice(defaultSourceOpener())
	}
	if a.transport == nil {
		a.transport = rtc.NewTransport
	}

	stun := cfg.Voice.STUNServers
	if len(stun) == 0 {
		stun = voice.DefaultSTUNServers
	}
	a.voice = voice.NewSession(a.capture, a.api, a.transport,
		voice.WithSTUNServers(stun),
		voice.WithInstructions(cfg.Voice.Instructions),
		voice.WithMetadata(cfg.Voice.Metadata),
		voice.WithOnUpdate(a.observeVoiceState()),
	)

	wsBase, err := a.chatWSBase()
	if err != nil {
		return nil, fmt.Errorf("app: derive chat socket base: %w", err)
	}
	a.chats = NewChatRegistry(wsBase, cfg.Chat, a.metrics)
	a.closers = append(a.closers, a.chats.CloseAll)

	return a, nil
}

// defaultSourceOpener fails at capture time. Real microphone input needs an
// OS-specific audio source injected via [WithCaptureDevice] or an opener
// wired by the embedding application.
func defaultSourceOpener() rtc.SourceOpener {
	return func(_ context.Context, _ voice.CaptureConstraints) (rtc.SampleSource, error) {
		return nil, errors.New("app: no microphone capture backend configured")
	}
}

// initLogging installs a JSON slog handler with a hot-reloadable level.
func (a *App) initLogging() {
	a.logLevel.Set(slogLevel(a.cfg.Admin.LogLevel))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: a.logLevel,
	})))
}

// slogLevel maps a config log level to its slog equivalent. Unset or unknown
// values fall back to info.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// chatWSBase resolves the WebSocket origin for the chat socket: the explicit
// chat.ws_base override when set, otherwise derived from api.base_url.
func (a *App) chatWSBase() (string, error) {
	raw := a.cfg.Chat.WSBase
	if raw == "" {
		raw = a.cfg.API.BaseURL
	}
	return chat.DeriveWSBase(raw)
}

// ─── Public surfaces ─────────────────────────────────────────────────────────

// API returns the backend HTTP client.
func (a *App) API() *api.Client { return a.api }

// Voice returns the app-wide voice session.
func (a *App) Voice() *voice.Session { return a.voice }

// Chats returns the registry of per-food chat sessions.
func (a *App) Chats() *ChatRegistry { return a.chats }

// ConnectVoice establishes the voice session and records connect latency.
func (a *App) ConnectVoice(ctx context.Context) error {
	start := time.Now()
	err := a.voice.Connect(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.VoiceConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("status", status)),
	)
	return err
}

// RecognizeFood calls food recognition and records latency and outcome. The
// backend call runs through the circuit breaker so a down backend fails fast.
func (a *App) RecognizeFood(ctx context.Context, imageBase64 string) (map[string]any, error) {
	if len(imageBase64) < api.MinImageLength {
		// Local validation must not trip the breaker.
		return nil, api.ErrInvalidImage
	}

	start := time.Now()
	var result map[string]any
	err := a.breaker.Execute(func() error {
		var callErr error
		result, callErr = a.api.RecognizeFood(ctx, imageBase64)
		return callErr
	})
	elapsed := time.Since(start).Seconds()

	status := "ok"
	if err != nil {
		status = "error"
	}
	a.metrics.RecognitionDuration.Record(ctx, elapsed)
	a.metrics.RecordBackendRequest(ctx, "recognize_food", status, elapsed)
	return result, err
}

// observeVoiceState returns the state callback that keeps the voice session
// gauge in sync with connection status.
func (a *App) observeVoiceState() func(voice.State) {
	var (
		mu        sync.Mutex
		connected bool
	)
	return func(st voice.State) {
		mu.Lock()
		defer mu.Unlock()
		now := st.Status == voice.StatusConnected
		if now == connected {
			return
		}
		connected = now
		delta := int64(-1)
		if now {
			delta = 1
		}
		a.metrics.ActiveVoiceSessions.Add(context.Background(), delta)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the admin HTTP server and the config watcher, then blocks until
// ctx is cancelled. When ctx is done, Run returns the context error.
func (a *App) Run(ctx context.Context, configPath string) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Admin.ListenAddr != "" {
		g.Go(func() error { return a.runAdminServer(ctx) })
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, a.applyConfigChange)
		if err != nil {
			return fmt.Errorf("app: start config watcher: %w", err)
		}
		a.closers = append(a.closers, func() error {
			watcher.Stop()
			return nil
		})
	}

	slog.Info("app running", "admin_addr", a.cfg.Admin.ListenAddr)
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})
	return g.Wait()
}

// adminHandler builds the admin mux: health probes plus the Prometheus
// scrape endpoint, wrapped in the tracing middleware.
func (a *App) adminHandler() http.Handler {
	checks := health.New(
		health.Checker{Name: "backend", Check: func(ctx context.Context) error {
			_, err := a.api.ListStyles(ctx)
			return err
		}},
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// runAdminServer serves /healthz, /readyz, and /metrics until ctx is done.
func (a *App) runAdminServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Admin.ListenAddr,
		Handler:           a.adminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.adminSrv = srv

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("admin server shutdown error", "err", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: admin server: %w", err)
	}
}

// applyConfigChange is the config watcher callback. Only hot-reloadable
// fields are applied; everything else requires a restart.
func (a *App) applyConfigChange(cfg *config.Config, diff config.ConfigDiff) {
	if !diff.Any() {
		return
	}
	if diff.LogLevelChanged {
		a.logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	if diff.DialectStyleChanged || diff.HistoryLimitChanged {
		a.chats.ApplyConfig(cfg.Chat)
	}
	if diff.InstructionsChanged {
		// Existing voice sessions keep the instructions they were created
		// with; the new value applies from the next Connect.
		slog.Info("voice instructions changed; applies to the next session")
	}
	a.cfg = cfg
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.voice.Disconnect()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
