package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message is a single turn of conversation history sent to the model.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// RoleUser and RoleAssistant are the two history polarities. Inbound
// chat messages map to user, the bot's own messages map to assistant.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
