// Package catalog serves the selectable model list and the agent registry.
package catalog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Hjgyhfyh/site/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config locates the catalog's files.
type Config struct {
	ModelFiles          []string // first file with at least one model wins
	DefaultModels       []string
	AgentsFile          string // optional YAML; overrides/extends built-in agents
	PromptsDir          string // <PromptsDir>/<agent id>.txt overrides the agent prompt
	MaxAgentPromptChars int
}

var builtinAgents = []domain.Agent{
	{
		ID:             "roblox-scripts",
		Name:           "Roblox Scripts",
		Icon:           "🎮",
		Description:    "Helper for writing Roblox scripts",
		FallbackPrompt: "You are a Roblox scripting assistant. Answer in Russian by default, give complete working Lua code when asked, and keep UI labels in English.",
	},
}

type agentsDocument struct {
	Agents []domain.Agent `yaml:"agents"`
}

// Catalog caches models and agents; Reload refreshes both from disk.
type Catalog struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	models []string
	agents map[string]domain.Agent
}

// New creates a catalog and performs the first load.
func New(cfg Config, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAgentPromptChars <= 0 {
		cfg.MaxAgentPromptChars = 12000
	}
	c := &Catalog{cfg: cfg, logger: logger}
	c.Reload()
	return c
}

// Reload re-reads the model files and agents file.
func (c *Catalog) Reload() {
	models := c.loadModels()
	agents := c.loadAgents()

	c.mu.Lock()
	c.models = models
	c.agents = agents
	c.mu.Unlock()

	c.logger.Info("Catalog loaded", "models", len(models), "agents", len(agents))
}

// Models returns the deduplicated model identifiers.
func (c *Catalog) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.models...)
}

// Agents returns all agents ordered by id.
func (c *Catalog) Agents() []domain.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentPrompt returns the system-prompt override for agentID, or "" when the
// agent is unknown. The prompt file is read on every call so edits apply
// without a restart.
func (c *Catalog) AgentPrompt(agentID string) string {
	c.mu.RLock()
	agent, ok := c.agents[agentID]
	c.mu.RUnlock()
	if !ok {
		return ""
	}

	raw, err := os.ReadFile(filepath.Join(c.cfg.PromptsDir, agentID+".txt"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Error("Failed to read agent prompt", "agent_id", agentID, "error", err)
		}
		return agent.FallbackPrompt
	}

	prompt := string(raw)
	limit := c.cfg.MaxAgentPromptChars
	if runes := []rune(prompt); len(runes) > limit {
		return fmt.Sprintf("%s\n\n[Agent prompt truncated to %d chars]", string(runes[:limit]), limit)
	}
	return prompt
}

func (c *Catalog) loadModels() []string {
	for _, path := range c.cfg.ModelFiles {
		models, err := readModelFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.logger.Error("Failed to read models file", "path", path, "error", err)
			}
			continue
		}
		if len(models) > 0 {
			return dedupe(models)
		}
	}
	return dedupe(c.cfg.DefaultModels)
}

func readModelFile(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimPrefix(raw, []byte("\ufeff"))

	var models []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		models = append(models, line)
	}
	return models, scanner.Err()
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (c *Catalog) loadAgents() map[string]domain.Agent {
	agents := make(map[string]domain.Agent, len(builtinAgents))
	for _, a := range builtinAgents {
		agents[a.ID] = a
	}
	if c.cfg.AgentsFile == "" {
		return agents
	}

	raw, err := os.ReadFile(c.cfg.AgentsFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Error("Failed to read agents file", "path", c.cfg.AgentsFile, "error", err)
		}
		return agents
	}

	var doc agentsDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		c.logger.Error("Failed to parse agents file", "path", c.cfg.AgentsFile, "error", err)
		return agents
	}
	for _, a := range doc.Agents {
		if !validAgentID(a.ID) {
			c.logger.Warn("Skipping agent with invalid id", "id", a.ID)
			continue
		}
		agents[a.ID] = a
	}
	return agents
}

func validAgentID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
