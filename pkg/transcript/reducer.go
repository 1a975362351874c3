package transcript

import (
	"sync"

	"github.com/google/uuid"
)

// Role identifies the speaker of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one transcript line, merged from all events sharing a response id.
type Entry struct {
	// ID is the response id the entry was merged under.
	ID string

	// Role is the speaker role, defaulting to assistant.
	Role Role

	// Text is the accumulated or final text.
	Text string

	// Finalized reports whether a completed or full-text event arrived.
	Finalized bool
}

// Reducer merges events into an ordered transcript. Entries keep their
// insertion position across updates; for a given response id there is at
// most one entry.
//
// Reducer is safe for concurrent use: the transport applies events from its
// read goroutine while callers snapshot entries for rendering.
type Reducer struct {
	mu      sync.Mutex
	entries []Entry
	index   map[string]int

	// newID generates ids for events that carry none. Overridable in tests.
	newID func() string
}

// ReducerOption is a functional option for configuring a Reducer.
type ReducerOption func(*Reducer)

// WithIDGenerator overrides the generator used for events that carry no
// response id. Primarily used in tests for deterministic ids.
func WithIDGenerator(fn func() string) ReducerOption {
	return func(r *Reducer) { r.newID = fn }
}

// NewReducer creates an empty Reducer.
func NewReducer(opts ...ReducerOption) *Reducer {
	r := &Reducer{
		index: make(map[string]int),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply merges one event into the transcript. Events without a recognised
// type (including wrapped malformed payloads) produce no mutation.
func (r *Reducer) Apply(evt Event) {
	if evt.Payload == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch evt.Type {
	case "response.created":
		role := RoleAssistant
		if s := nestedString(evt.Payload, "response", "role"); s != "" {
			role = Role(s)
		}
		r.upsert(r.mergeKey(evt), func(e *Entry) {
			e.Role = role
			e.Finalized = false
		})

	case "response.completed":
		r.upsert(r.mergeKey(evt), func(e *Entry) {
			e.Finalized = true
		})

	default:
		r.applyContent(evt)
	}
}

// applyContent handles delta/full text items. The text payload may live
// under delta.content, message.delta.content, or content directly; each
// candidate is a single item or a list of items tagged output_text_delta
// (append) or output_text (replace and finalise).
func (r *Reducer) applyContent(evt Event) {
	items := contentItems(evt.Payload)
	if len(items) == 0 {
		return
	}

	id := r.mergeKey(evt)
	for _, item := range items {
		itemType, _ := item["type"].(string)
		text, _ := item["text"].(string)
		if text == "" {
			continue
		}
		switch itemType {
		case "output_text_delta":
			r.upsert(id, func(e *Entry) {
				e.Text += text
			})
		case "output_text":
			r.upsert(id, func(e *Entry) {
				e.Text = text
				e.Finalized = true
			})
		}
	}
}

// contentItems gathers the text-bearing items from all candidate locations,
// flattening one level of nesting.
func contentItems(payload map[string]any) []map[string]any {
	candidates := []any{
		dig(payload, "delta", "content"),
		digDeep(payload, "message", "delta", "content"),
		payload["content"],
	}

	var items []map[string]any
	for _, candidate := range candidates {
		switch v := candidate.(type) {
		case map[string]any:
			items = append(items, v)
		case []any:
			for _, elem := range v {
				if m, ok := elem.(map[string]any); ok {
					items = append(items, m)
				}
			}
		}
	}
	return items
}

// mergeKey resolves the response id for an event, generating one when the
// event carries none.
func (r *Reducer) mergeKey(evt Event) string {
	if id := ResponseID(evt.Payload); id != "" {
		return id
	}
	return r.newID()
}

// upsert finds or appends the entry for id and applies update in place.
func (r *Reducer) upsert(id string, update func(*Entry)) {
	if i, ok := r.index[id]; ok {
		update(&r.entries[i])
		return
	}
	entry := Entry{ID: id, Role: RoleAssistant}
	update(&entry)
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, entry)
}

// Entries returns a snapshot of the transcript in insertion order.
func (r *Reducer) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of transcript entries.
func (r *Reducer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset clears the transcript. Called on every new connection attempt so
// no entries leak across sessions.
func (r *Reducer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.index = make(map[string]int)
}

func dig(payload map[string]any, outer, inner string) any {
	nested, ok := payload[outer].(map[string]any)
	if !ok {
		return nil
	}
	return nested[inner]
}

func digDeep(payload map[string]any, keys ...string) any {
	var current any = payload
	for _, key := range keys {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}
