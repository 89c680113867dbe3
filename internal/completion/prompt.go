package completion

import (
	"strings"
	"unicode/utf8"

	"github.com/Hjgyhfyh/site/internal/domain"
)

// EstimateTokens approximates token usage as ceil(chars / 4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TrimMessages keeps the newest messages whose estimated cost, together
// with the system preamble, fits maxTokens. The most recent message is
// always kept.
func TrimMessages(messages []domain.Message, maxTokens int, preamble string) []domain.Message {
	total := EstimateTokens(preamble)
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(messages[i].Content)
		if total+cost > maxTokens && start < len(messages) {
			break
		}
		total += cost
		start = i
	}
	return messages[start:]
}

// BuildExtraPrompt joins capped custom instructions and the agent prompt.
func BuildExtraPrompt(customInstructions, agentPrompt string, maxCustomChars int) string {
	var b strings.Builder
	if customInstructions != "" {
		b.WriteString(truncateRunes(customInstructions, maxCustomChars))
		b.WriteString("\n\n")
	}
	if agentPrompt != "" {
		b.WriteString(agentPrompt)
		b.WriteString("\n\n")
	}
	return b.String()
}

// SystemPreamble is the base prompt extended with extra, if any.
func SystemPreamble(base, extra string) string {
	if extra == "" {
		return base
	}
	return base + "\n\n" + extra
}

// RenderPrompt renders the preamble followed by alternating User/Assistant lines.
func RenderPrompt(preamble string, messages []domain.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		prefix := "Assistant: "
		if m.Role == domain.RoleUser {
			prefix = "User: "
		}
		lines = append(lines, prefix+m.Content)
	}
	return preamble + "\n\n" + strings.Join(lines, "\n\n")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
