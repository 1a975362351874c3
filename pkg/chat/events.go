package chat

// Role identifies who authored a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Reference is a cited source attached to an assistant reply.
type Reference struct {
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Snippet is a retrieved evidence excerpt attached to an assistant reply.
type Snippet struct {
	Excerpt string `json:"excerpt,omitempty"`
	Source  string `json:"source,omitempty"`
	Page    int    `json:"page,omitempty"`
}

// Message is one entry in the conversation history.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Text       string      `json:"text"`
	TraceID    string      `json:"trace_id,omitempty"`
	References []Reference `json:"references,omitempty"`
	Snippets   []Snippet   `json:"snippets,omitempty"`
}

// Guidance is the first-pass safety and nutrition summary the server
// delivers before free-form questions are accepted.
type Guidance struct {
	IsSafe            *bool  `json:"is_safe,omitempty"`
	SafetySummary     string `json:"safety_summary,omitempty"`
	NutritionalAdvice string `json:"nutritional_advice,omitempty"`
}

// serverEvent is the tagged union of all inbound frame shapes. Only the
// fields relevant to the event's type are populated.
type serverEvent struct {
	Type string `json:"type"`

	// chat.connected
	SessionID string `json:"session_id,omitempty"`
	FoodName  string `json:"food_name,omitempty"`

	// chat.status / assistant.status
	Status string `json:"status,omitempty"`

	// chat.baseline
	Guidance *Guidance `json:"guidance,omitempty"`

	// assistant.reply
	Answer     string      `json:"answer,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	References []Reference `json:"references,omitempty"`
	Snippets   []Snippet   `json:"retrieved_snippets,omitempty"`

	// assistant.error
	Message string `json:"message,omitempty"`
}

type userMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TraceID string `json:"trace_id"`
}

var statusLabels = map[string]string{
	"initializing": "안전 정보를 불러오는 중이에요...",
	"processing":   "답변을 생성하고 있어요...",
	"error":        "일시적인 오류가 발생했어요.",
}

// StatusLabel maps a pipeline status to its user-facing label. Unknown
// statuses are returned unchanged.
func StatusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status
}
