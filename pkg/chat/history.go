package chat

// history is a bounded FIFO of conversation messages. Appending a message
// whose id is already present overwrites that entry in place instead of
// duplicating it, which makes fixed-identity messages (the baseline
// summary) idempotent. Per-role totals count every first-time append for
// the lifetime of the conversation; eviction never decrements them.
type history struct {
	limit   int
	entries []Message

	userTotal      int
	assistantTotal int
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

func (h *history) append(msg Message) {
	for i, existing := range h.entries {
		if existing.ID == msg.ID {
			h.entries[i] = msg
			return
		}
	}
	switch msg.Role {
	case RoleUser:
		h.userTotal++
	case RoleAssistant:
		h.assistantTotal++
	}
	h.entries = append(h.entries, msg)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// snapshot returns a copy safe to hand outside the manager's lock.
func (h *history) snapshot() []Message {
	out := make([]Message, len(h.entries))
	copy(out, h.entries)
	return out
}
