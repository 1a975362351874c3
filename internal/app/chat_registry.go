package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/momtouch/ansim/internal/config"
	"github.com/momtouch/ansim/internal/observe"
	"github.com/momtouch/ansim/pkg/chat"
)

// ChatRegistry manages the lifecycle of per-food chat sessions. Each food
// name maps to at most one live [chat.Manager]; opening the same food again
// returns the existing session. All exported methods are safe for concurrent
// use.
type ChatRegistry struct {
	mu       sync.Mutex
	sessions map[string]*chat.Manager

	wsBase  string
	cfg     config.ChatConfig
	metrics *observe.Metrics
}

// NewChatRegistry creates a registry that dials sockets against wsBase.
func NewChatRegistry(wsBase string, cfg config.ChatConfig, metrics *observe.Metrics) *ChatRegistry {
	return &ChatRegistry{
		sessions: make(map[string]*chat.Manager),
		wsBase:   wsBase,
		cfg:      cfg,
		metrics:  metrics,
	}
}

// Open returns the live chat session for foodName, connecting a new one when
// none exists. The food name is the lookup key after whitespace trimming.
func (r *ChatRegistry) Open(ctx context.Context, foodName string) (*chat.Manager, error) {
	key := strings.TrimSpace(foodName)
	if key == "" {
		return nil, fmt.Errorf("app: food name is required to open a chat")
	}

	r.mu.Lock()
	if m, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return m, nil
	}

	opts := []chat.Option{
		chat.WithOnUpdate(r.observeChatState(key)),
	}
	if r.cfg.HistoryLimit != 0 {
		opts = append(opts, chat.WithHistoryLimit(effectiveHistoryLimit(r.cfg.HistoryLimit)))
	}

	m := chat.New(r.wsBase, key, r.cfg.DialectStyle, opts...)
	r.sessions[key] = m
	r.mu.Unlock()

	if err := m.Connect(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, key)
		r.mu.Unlock()
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// Get returns the live session for foodName, or nil when none exists.
func (r *ChatRegistry) Get(foodName string) *chat.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[strings.TrimSpace(foodName)]
}

// Close tears down the session for foodName. Closing an unknown food is a
// no-op.
func (r *ChatRegistry) Close(foodName string) error {
	key := strings.TrimSpace(foodName)

	r.mu.Lock()
	m, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return m.Close()
}

// CloseAll tears down every live session. The registry stays usable.
func (r *ChatRegistry) CloseAll() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*chat.Manager)
	r.mu.Unlock()

	for _, m := range sessions {
		_ = m.Close()
	}
	return nil
}

// Active returns the number of live sessions.
func (r *ChatRegistry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ApplyConfig updates the chat settings used for sessions opened after this
// call. Existing sessions keep the settings they were created with.
func (r *ChatRegistry) ApplyConfig(cfg config.ChatConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.DialectStyle = cfg.DialectStyle
	r.cfg.HistoryLimit = cfg.HistoryLimit
}

// observeChatState returns the state callback that keeps the chat gauges and
// counters in sync for one session.
func (r *ChatRegistry) observeChatState(foodName string) func(chat.State) {
	var (
		mu        sync.Mutex
		connected bool
		sent      int
		events    int
	)
	return func(st chat.State) {
		ctx := context.Background()

		mu.Lock()
		defer mu.Unlock()

		now := st.Status == chat.StatusConnected
		if now != connected {
			connected = now
			delta := int64(-1)
			if now {
				delta = 1
			}
			r.metrics.ActiveChatSessions.Add(ctx, delta)
		}

		if st.Status == chat.StatusDisconnected {
			slog.Debug("chat socket lost", "food", foodName)
			r.metrics.RecordChatReconnect(ctx, "socket_lost")
		}

		// The lifetime totals keep counting after the bounded history
		// starts evicting, so the counters never stall on long sessions.
		for ; sent < st.UserTotal; sent++ {
			r.metrics.ChatMessagesSent.Add(ctx, 1)
		}
		for ; events < st.AssistantTotal; events++ {
			r.metrics.RecordChatEvent(ctx, "assistant.reply")
		}
	}
}

// effectiveHistoryLimit maps the config value onto the manager option:
// negative disables the bound entirely.
func effectiveHistoryLimit(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
