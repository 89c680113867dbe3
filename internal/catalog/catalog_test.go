package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestModelsFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{
		ModelFiles:    []string{filepath.Join(dir, "missing.txt")},
		DefaultModels: []string{"a", "b", "a", " "},
	}, nil)

	assert.Equal(t, []string{"a", "b"}, c.Models())
}

func TestModelsFromFirstNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	models := filepath.Join(dir, "Models.txt")
	writeFile(t, empty, "# only comments\n\n")
	writeFile(t, models, "\ufeffmistral-large2\r\n# comment\narctic-sentiment\nmistral-large2\n")

	c := New(Config{ModelFiles: []string{empty, models}, DefaultModels: []string{"x"}}, nil)
	assert.Equal(t, []string{"mistral-large2", "arctic-sentiment"}, c.Models())
}

func TestAgentsBuiltinAndYAML(t *testing.T) {
	dir := t.TempDir()
	agentsFile := filepath.Join(dir, "agents.yaml")
	writeFile(t, agentsFile, `
agents:
  - id: sql-helper
    name: SQL Helper
    icon: "🗄"
    description: Writes warehouse SQL
    fallbackPrompt: You write SQL.
  - id: "../escape"
    name: bad
`)

	c := New(Config{AgentsFile: agentsFile, PromptsDir: filepath.Join(dir, "prompts")}, nil)
	agents := c.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "roblox-scripts", agents[0].ID)
	assert.Equal(t, "sql-helper", agents[1].ID)
	assert.Equal(t, "You write SQL.", c.AgentPrompt("sql-helper"))
	assert.Equal(t, "", c.AgentPrompt("unknown"))
}

func TestAgentPromptFileOverridesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	prompts := filepath.Join(dir, "prompts")
	writeFile(t, filepath.Join(prompts, "roblox-scripts.txt"), strings.Repeat("x", 20))

	c := New(Config{PromptsDir: prompts, MaxAgentPromptChars: 8}, nil)
	assert.Equal(t, "xxxxxxxx\n\n[Agent prompt truncated to 8 chars]", c.AgentPrompt("roblox-scripts"))

	writeFile(t, filepath.Join(prompts, "roblox-scripts.txt"), "short")
	assert.Equal(t, "short", c.AgentPrompt("roblox-scripts"))
}

func TestAgentPromptFallsBackWhenFileMissing(t *testing.T) {
	c := New(Config{PromptsDir: t.TempDir()}, nil)
	assert.Contains(t, c.AgentPrompt("roblox-scripts"), "Roblox scripting assistant")
}

func TestWatchReloadsModels(t *testing.T) {
	dir := t.TempDir()
	models := filepath.Join(dir, "models.txt")
	writeFile(t, models, "one\n")

	c := New(Config{ModelFiles: []string{models}}, nil)
	require.Equal(t, []string{"one"}, c.Models())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Watch(ctx) }()
	time.Sleep(50 * time.Millisecond)

	writeFile(t, models, "one\ntwo\n")
	assert.Eventually(t, func() bool {
		return len(c.Models()) == 2
	}, 2*time.Second, 20*time.Millisecond)
}
