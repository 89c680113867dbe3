package completion

import (
	"encoding/json"
)

// completionEnvelope covers the JSON shapes the completion functions return.
type completionEnvelope struct {
	Choices []struct {
		Messages json.RawMessage `json:"messages"`
		Message  *struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type unwrapAttempt func(raw string) (string, bool)

// unwrapAttempts run in order; the first that recognises its shape wins.
var unwrapAttempts = []unwrapAttempt{
	fromChoicesMessages,
	fromChoicesMessageContent,
	fromJSONString,
}

// UnwrapCompletion extracts the text of a completion response. Anything that
// does not decode into a known shape is returned unchanged.
func UnwrapCompletion(raw string) string {
	for _, attempt := range unwrapAttempts {
		if text, ok := attempt(raw); ok {
			return text
		}
	}
	return raw
}

func firstChoice(raw string) (*completionEnvelope, bool) {
	var env completionEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || len(env.Choices) == 0 {
		return nil, false
	}
	return &env, true
}

func fromChoicesMessages(raw string) (string, bool) {
	env, ok := firstChoice(raw)
	if !ok {
		return "", false
	}
	return rawString(env.Choices[0].Messages)
}

func fromChoicesMessageContent(raw string) (string, bool) {
	env, ok := firstChoice(raw)
	if !ok || env.Choices[0].Message == nil {
		return "", false
	}
	return rawString(env.Choices[0].Message.Content)
}

// fromJSONString decodes a bare JSON string. A JSON null is not a string.
func fromJSONString(raw string) (string, bool) {
	var s *string
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

func rawString(msg json.RawMessage) (string, bool) {
	if len(msg) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}
