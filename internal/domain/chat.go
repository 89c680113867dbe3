package domain

import (
	"strconv"
)

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a model reply.
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat and /api/chat/regenerate.
type ChatRequest struct {
	Model              string    `json:"model"`
	Messages           []Message `json:"messages"`
	CustomInstructions string    `json:"customInstructions,omitempty"`
	AgentID            string    `json:"agentId,omitempty"`
}

// LastUserContent returns the content of the most recent user message, or "".
func (r *ChatRequest) LastUserContent() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content
		}
	}
	return ""
}

// Chat is a saved conversation. Its shape belongs to the front-end; the
// server only relies on the "id" field.
type Chat map[string]any

// ID returns the chat's identifier rendered as a string.
func (c Chat) ID() string {
	switch v := c["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Agent is a named bundle of system-prompt text applied on top of the base prompt.
type Agent struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Icon           string `json:"icon" yaml:"icon"`
	Description    string `json:"description" yaml:"description"`
	FallbackPrompt string `json:"-" yaml:"fallbackPrompt"`
}
