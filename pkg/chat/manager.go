// Package chat maintains the retrieval-chat connection for a recognized
// food subject.
//
// A Manager owns a single WebSocket to the chat endpoint, classifies
// inbound JSON events into conversation state (bounded message history,
// baseline guidance, typing indicator, pipeline status), and reconnects
// with capped exponential backoff when the socket drops. Sends are
// validated locally before any frame is written: empty input, a missing
// baseline, and a closed socket are all rejected with a system message
// instead of a network write.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	// The backend only accepts the path without a trailing slash.
	wsPath = "/ws/vision/foods/chat"

	// DefaultHistoryLimit bounds the visible conversation history. The
	// greeting counts as one entry.
	DefaultHistoryLimit = 6

	// DefaultGreeting seeds the history before the server says anything.
	DefaultGreeting = "안녕하세요! 음식명을 기준으로 안전성과 섭취 팁을 실시간으로 찾아드릴게요."

	greetingID = "assistant-greeting"
	baselineID = "assistant-baseline-summary"

	maxBackoff     = 3 * time.Second
	initialBackoff = 1 * time.Second
)

// Application close codes with fixed user-facing meaning.
const (
	// CloseAuthExpired means the credential was rejected. Reconnection is
	// suppressed; the user has to sign in again.
	CloseAuthExpired websocket.StatusCode = 4401

	// CloseMissingSubject means the server refused the connection because
	// no food name was supplied.
	CloseMissingSubject websocket.StatusCode = 4400
)

const (
	msgAuthExpired     = "인증 정보가 만료됐어요. 다시 로그인해 주세요."
	msgMissingSubject  = "음식명이 전달되지 않아 연결이 종료됐어요."
	msgNoSubject       = "음식명을 알 수 없어 채팅을 시작할 수 없어요."
	msgBaselinePending = "기본 안전 정보를 불러오는 동안 잠시만 기다려 주세요."
	msgReconnecting    = "서버와의 연결이 끊어졌어요. 다시 연결 중입니다."
	msgConnectFailed   = "채팅 서버에 연결할 수 없어요. 네트워크 상태를 확인해 주세요."
	msgGenericError    = "일시적인 오류가 발생했어요. 잠시 후 다시 시도해 주세요."
)

// ConnectionStatus is the observable state of the chat socket.
type ConnectionStatus string

const (
	StatusIdle         ConnectionStatus = "idle"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// Errors returned by [Manager.Connect] and [Manager.Send]. A rejected send
// never writes a frame and, except for the empty-input case, surfaces a
// system message in the history explaining why.
var (
	ErrNoSubject       = fmt.Errorf("chat: food name is required")
	ErrEmptyMessage    = fmt.Errorf("chat: empty message")
	ErrBaselinePending = fmt.Errorf("chat: baseline guidance not yet received")
	ErrNotConnected    = fmt.Errorf("chat: socket is not open")
	ErrSendInFlight    = fmt.Errorf("chat: send already in progress")
)

// State is a point-in-time snapshot of the manager's observable state.
type State struct {
	Status         ConnectionStatus
	PipelineStatus string
	Typing         bool
	SessionID      string
	FoodName       string
	Baseline       *Guidance
	Messages       []Message

	// UserTotal and AssistantTotal count every message appended for the
	// lifetime of the conversation. Unlike Messages they are unaffected
	// by history eviction, so callers can derive monotone counters from
	// consecutive snapshots.
	UserTotal      int
	AssistantTotal int
}

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithHistoryLimit overrides the bounded history length. Zero or negative
// disables the bound.
func WithHistoryLimit(limit int) Option {
	return func(m *Manager) { m.limit = limit }
}

// WithSessionID resumes a previously issued chat session.
func WithSessionID(id string) Option {
	return func(m *Manager) { m.sessionID = id }
}

// WithIDGenerator replaces the trace/message id source. Primarily used in
// tests for deterministic ids.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithOnUpdate registers a callback invoked with a fresh snapshot after
// every state change. The callback runs on the manager's event goroutine
// and must not call back into the Manager synchronously.
func WithOnUpdate(fn func(State)) Option {
	return func(m *Manager) { m.onUpdate = fn }
}

// Manager maintains the chat socket and its derived conversation state.
// All methods are safe for concurrent use.
type Manager struct {
	baseURL      string
	dialectStyle string
	limit        int
	newID        func() string
	onUpdate     func(State)

	sendLock atomic.Bool

	mu             sync.Mutex
	conn           *websocket.Conn
	status         ConnectionStatus
	pipelineStatus string
	typing         bool
	sessionID      string
	foodName       string
	baseline       *Guidance
	history        *history
	attempt        int
	gen            int
	wantReconnect  bool
	retryTimer     *time.Timer
	runCtx         context.Context
}

// New creates a Manager for the given WebSocket base URL (see
// [DeriveWSBase]), food subject, and dialect style. The history starts
// with the assistant greeting.
func New(baseURL, foodName, dialectStyle string, opts ...Option) *Manager {
	m := &Manager{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		dialectStyle:   dialectStyle,
		foodName:       strings.TrimSpace(foodName),
		limit:          DefaultHistoryLimit,
		newID:          uuid.NewString,
		status:         StatusIdle,
		pipelineStatus: "idle",
	}
	for _, o := range opts {
		o(m)
	}
	m.history = newHistory(m.limit)
	m.history.append(Message{ID: greetingID, Role: RoleAssistant, Text: DefaultGreeting})
	return m
}

// Connect opens the socket. It is a no-op when already connecting or
// connected. Without a food subject the attempt is refused: the status
// becomes error, a system message is appended, and ErrNoSubject is
// returned. ctx bounds the whole connection lifetime including reconnects.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil
	}
	if m.foodName == "" {
		m.status = StatusError
		m.appendLocked(Message{Role: RoleSystem, Text: msgNoSubject})
		m.mu.Unlock()
		m.notify()
		return ErrNoSubject
	}
	m.wantReconnect = true
	m.runCtx = ctx
	m.mu.Unlock()

	return m.dial(ctx)
}

// Close tears the socket down and suppresses any pending reconnect.
// Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.wantReconnect = false
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.gen++ // stale read loops become inert
	m.status = StatusIdle
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

// Send validates and transmits a user message. On acceptance it writes a
// user.message frame with a fresh trace id and appends the user's text to
// the history under that trace id.
func (m *Manager) Send(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.baseline == nil {
		m.appendLocked(Message{Role: RoleSystem, Text: msgBaselinePending})
		m.mu.Unlock()
		m.notify()
		return ErrBaselinePending
	}
	if m.conn == nil || m.status != StatusConnected {
		m.appendLocked(Message{Role: RoleSystem, Text: msgReconnecting})
		redial := m.status == StatusDisconnected && m.wantReconnect
		ctx := m.runCtx
		m.mu.Unlock()
		m.notify()
		if redial {
			go func() {
				if err := m.dial(ctx); err != nil {
					slog.Warn("chat reconnect on send failed", "error", err)
				}
			}()
		}
		return ErrNotConnected
	}
	conn := m.conn
	ctx := m.runCtx
	traceID := m.newID()
	m.mu.Unlock()

	if !m.sendLock.CompareAndSwap(false, true) {
		return ErrSendInFlight
	}
	defer m.sendLock.Store(false)

	frame, err := json.Marshal(userMessage{Type: "user.message", Message: trimmed, TraceID: traceID})
	if err != nil {
		return fmt.Errorf("chat: marshal: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("chat: send: %w", err)
	}

	m.mu.Lock()
	m.appendLocked(Message{Role: RoleUser, Text: trimmed, TraceID: traceID})
	m.mu.Unlock()
	m.notify()
	return nil
}

// State returns a snapshot of the current conversation state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Status:         m.status,
		PipelineStatus: m.pipelineStatus,
		Typing:         m.typing,
		SessionID:      m.sessionID,
		FoodName:       m.foodName,
		Baseline:       m.baseline,
		Messages:       m.history.snapshot(),
		UserTotal:      m.history.userTotal,
		AssistantTotal: m.history.assistantTotal,
	}
}

// ── connection lifecycle ───────────────────────────────────────────────────────

func (m *Manager) dial(ctx context.Context) error {
	m.mu.Lock()
	if !m.wantReconnect {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	target := m.socketURLLocked()
	m.status = StatusConnecting
	m.mu.Unlock()
	m.notify()

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		m.mu.Lock()
		if gen == m.gen {
			m.status = StatusError
			m.appendLocked(Message{Role: RoleSystem, Text: msgConnectFailed})
			m.scheduleReconnectLocked()
		}
		m.mu.Unlock()
		m.notify()
		return fmt.Errorf("chat: dial: %w", err)
	}

	m.mu.Lock()
	if gen != m.gen || !m.wantReconnect {
		m.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return nil
	}
	m.conn = conn
	m.status = StatusConnected
	m.attempt = 0
	m.typing = false
	m.mu.Unlock()
	m.notify()

	go m.readLoop(ctx, conn, gen)
	return nil
}

// socketURLLocked builds the endpoint URL from the subject, style, and any
// learned session id. Caller holds m.mu.
func (m *Manager) socketURLLocked() string {
	params := url.Values{}
	if m.foodName != "" {
		params.Set("food", m.foodName)
	}
	if m.dialectStyle != "" {
		params.Set("dialect_style", m.dialectStyle)
	}
	if m.sessionID != "" {
		params.Set("session_id", m.sessionID)
	}
	return m.baseURL + wsPath + "?" + params.Encode()
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleFrame(gen, data)
	}
}

func (m *Manager) handleClose(gen int, err error) {
	code := websocket.CloseStatus(err)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.status = StatusDisconnected
	if code >= 4000 {
		m.typing = false
	}
	switch code {
	case CloseAuthExpired:
		m.appendLocked(Message{Role: RoleSystem, Text: msgAuthExpired})
	case CloseMissingSubject:
		m.appendLocked(Message{Role: RoleSystem, Text: msgMissingSubject})
	}
	if m.wantReconnect && code != CloseAuthExpired {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()
	m.notify()

	slog.Info("chat socket closed", "code", int(code), "error", err)
}

// scheduleReconnectLocked arms the retry timer with capped exponential
// backoff: 1s, 2s, then 3s for every further attempt. Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if !m.wantReconnect {
		return
	}
	m.attempt++
	delay := backoffDelay(m.attempt)
	ctx := m.runCtx
	attempt := m.attempt
	m.retryTimer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		slog.Info("chat reconnecting", "attempt", attempt, "delay", delay)
		if err := m.dial(ctx); err != nil {
			slog.Warn("chat reconnect failed", "attempt", attempt, "error", err)
		}
	})
}

func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 2 {
		return maxBackoff
	}
	delay := initialBackoff << (attempt - 1)
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

// ── inbound event handling ─────────────────────────────────────────────────────

func (m *Manager) handleFrame(gen int, data []byte) {
	var evt serverEvent
	if err := json.Unmarshal(data, &evt); err != nil || evt.Type == "" {
		slog.Debug("chat dropping unparseable frame", "size", len(data))
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	switch evt.Type {
	case "chat.connected":
		m.status = StatusConnected
		if evt.SessionID != "" {
			m.sessionID = evt.SessionID
		}
		if evt.FoodName != "" && m.foodName == "" {
			m.foodName = evt.FoodName
		}

	case "chat.status":
		if evt.Status != "" {
			m.pipelineStatus = evt.Status
		} else {
			m.pipelineStatus = "idle"
		}

	case "chat.baseline":
		m.baseline = evt.Guidance
		if evt.Guidance != nil && evt.Guidance.SafetySummary != "" {
			m.appendLocked(Message{
				ID:   baselineID,
				Role: RoleAssistant,
				Text: evt.Guidance.SafetySummary,
			})
		}

	case "assistant.status":
		m.typing = evt.Status == "processing"
		if evt.Status != "" && evt.Status != "processing" {
			m.pipelineStatus = evt.Status
		}

	case "assistant.reply":
		m.typing = false
		m.appendLocked(Message{
			Role:       RoleAssistant,
			Text:       evt.Answer,
			TraceID:    evt.TraceID,
			References: evt.References,
			Snippets:   evt.Snippets,
		})

	case "assistant.error":
		reason := evt.Message
		if reason == "" {
			reason = msgGenericError
		}
		m.appendLocked(Message{Role: RoleSystem, Text: reason})
		m.typing = false

	default:
		m.mu.Unlock()
		slog.Debug("chat unhandled event", "type", evt.Type)
		return
	}

	m.mu.Unlock()
	m.notify()
}

// appendLocked adds a message to the history, filling in a generated id
// and the assistant role when absent. Caller holds m.mu.
func (m *Manager) appendLocked(msg Message) {
	if msg.ID == "" {
		msg.ID = m.newID()
	}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	m.history.append(msg)
}

func (m *Manager) notify() {
	if m.onUpdate == nil {
		return
	}
	m.onUpdate(m.State())
}
