// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string
	AppVersion  string
	LogLevel    string

	DataDir     string
	StoreDriver string // "json" (default) or "sqlite"
	DBPath      string

	Snowflake SnowflakeConfig
	Auth      AuthConfig
	Presence  PresenceConfig
	Prompt    PromptConfig
	Catalog   CatalogConfig
	RateLimit RateLimitConfig
}

// SnowflakeConfig controls the statement endpoint and its timing budgets.
type SnowflakeConfig struct {
	AccountIdentifier string
	PAT               string
	Role              string
	Warehouse         string

	StatementTimeout time.Duration // execution budget requested from the endpoint
	PollInterval     time.Duration
	PollSlack        int
	HTTPTimeout      time.Duration // bound on every single round-trip
	OperationTimeout time.Duration // bound on a whole model operation
}

// AuthConfig controls sessions and their signing secret.
type AuthConfig struct {
	Secret        string
	SecretFile    string
	SessionTTL    time.Duration
	SweepInterval time.Duration
}

// PresenceConfig controls online tracking.
type PresenceConfig struct {
	Window    time.Duration
	AdminUser string
	Keepalive time.Duration
}

// PromptConfig bounds the prompt assembled for generic completions.
type PromptConfig struct {
	MaxPromptTokens            int
	MaxAgentPromptChars        int
	MaxCustomInstructionsChars int
}

// CatalogConfig locates the model list and agent definitions.
type CatalogConfig struct {
	ModelFiles    []string
	DefaultModels []string
	AgentsFile    string
	PromptsDir    string
	LegacyChats   string
}

// RateLimitConfig holds token-bucket settings.
type RateLimitConfig struct {
	ChatRPS   float64
	ChatBurst int
	AuthRPS   float64
	AuthBurst int
}

var builtinModels = []string{
	"mistral-large2",
	"llama3.1-70b",
	"llama3.1-8b",
	"arctic-sentiment",
	"arctic-translate",
	"arctic-extract-answer",
	"arctic-parse-document",
	"arctic-text2sql",
	"arctic-transcribe",
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")
	if abs, err := filepath.Abs(dataDir); err == nil {
		dataDir = abs
	}

	defaults := splitList(getEnv("DEFAULT_MODELS", ""))
	if len(defaults) == 0 {
		defaults = append([]string(nil), builtinModels...)
	}

	var modelFiles []string
	if f := getEnv("MODELS_FILE", ""); f != "" {
		modelFiles = append(modelFiles, f)
	}
	modelFiles = append(modelFiles,
		"Models.txt",
		"models.txt",
		filepath.Join(dataDir, "Models.txt"),
		filepath.Join(dataDir, "models.txt"),
	)

	cfg := &Config{
		Port:        getEnv("PORT", "3001"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),
		AppVersion:  getEnv("APP_VERSION", time.Now().UTC().Format(time.RFC3339)),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DataDir:     dataDir,
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "json")),
		DBPath:      getEnv("DB_PATH", filepath.Join(dataDir, "site.db")),
		Snowflake: SnowflakeConfig{
			AccountIdentifier: strings.TrimSuffix(getEnv("SNOWFLAKE_ACCOUNT_IDENTIFIER", ""), "/"),
			PAT:               getEnv("SNOWFLAKE_PAT", ""),
			Role:              firstEnv("ACCOUNTADMIN", "ADMIN_ROLE", "SNOWFLAKE_ROLE"),
			Warehouse:         firstEnv("COMPUTE_WH", "ADMIN_WAREHOUSE", "SNOWFLAKE_WAREHOUSE"),
			StatementTimeout:  time.Duration(getEnvInt("SQL_STATEMENT_TIMEOUT_SECONDS", 600)) * time.Second,
			PollInterval:      time.Duration(getEnvInt("SQL_POLL_INTERVAL_MS", 500)) * time.Millisecond,
			PollSlack:         getEnvInt("SQL_POLL_SLACK", 30),
			HTTPTimeout:       time.Duration(getEnvInt("SNOWFLAKE_HTTP_TIMEOUT_MS", 10*60*1000)) * time.Millisecond,
			OperationTimeout:  time.Duration(getEnvInt("MODEL_OPERATION_TIMEOUT_MS", 10*60*1000)) * time.Millisecond,
		},
		Auth: AuthConfig{
			Secret:        strings.TrimSpace(getEnv("AUTH_SECRET", "")),
			SecretFile:    filepath.Join(dataDir, "auth.secret"),
			SessionTTL:    getEnvDuration("SESSION_TTL", 30*24*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 15*time.Second),
		},
		Presence: PresenceConfig{
			Window:    getEnvDuration("PRESENCE_WINDOW", 70*time.Second),
			AdminUser: strings.ToLower(strings.TrimSpace(getEnv("PRESENCE_ADMIN", "godli"))),
			Keepalive: getEnvDuration("SSE_KEEPALIVE", 15*time.Second),
		},
		Prompt: PromptConfig{
			MaxPromptTokens:            getEnvInt("MAX_PROMPT_TOKENS", 150000),
			MaxAgentPromptChars:        getEnvInt("MAX_AGENT_PROMPT_CHARS", 12000),
			MaxCustomInstructionsChars: getEnvInt("MAX_CUSTOM_INSTRUCTIONS_CHARS", 6000),
		},
		Catalog: CatalogConfig{
			ModelFiles:    modelFiles,
			DefaultModels: defaults,
			AgentsFile:    getEnv("AGENTS_FILE", filepath.Join(dataDir, "agents.yaml")),
			PromptsDir:    filepath.Join(dataDir, "agent-prompts"),
			LegacyChats:   getEnv("LEGACY_CHATS_FILE", "chats.json"),
		},
		RateLimit: RateLimitConfig{
			ChatRPS:   getEnvFloat("CHAT_RATE_LIMIT_RPS", 1),
			ChatBurst: getEnvInt("CHAT_RATE_LIMIT_BURST", 5),
			AuthRPS:   getEnvFloat("AUTH_RATE_LIMIT_RPS", 0.5),
			AuthBurst: getEnvInt("AUTH_RATE_LIMIT_BURST", 10),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR cannot be empty")
	}
	switch c.StoreDriver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be json or sqlite, got %q", c.StoreDriver)
	}
	if c.Snowflake.PollInterval <= 0 {
		return fmt.Errorf("SQL_POLL_INTERVAL_MS must be > 0")
	}
	if c.Snowflake.StatementTimeout <= 0 {
		return fmt.Errorf("SQL_STATEMENT_TIMEOUT_SECONDS must be > 0")
	}
	if c.Snowflake.HTTPTimeout <= 0 || c.Snowflake.OperationTimeout <= 0 {
		return fmt.Errorf("SNOWFLAKE_HTTP_TIMEOUT_MS and MODEL_OPERATION_TIMEOUT_MS must be > 0")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.SweepInterval <= 0 {
		return fmt.Errorf("SESSION_TTL and SESSION_SWEEP_INTERVAL must be > 0")
	}
	if c.Presence.Window <= 0 {
		return fmt.Errorf("PRESENCE_WINDOW must be > 0")
	}
	if c.Prompt.MaxPromptTokens <= 0 {
		return fmt.Errorf("MAX_PROMPT_TOKENS must be > 0")
	}
	if c.RateLimit.ChatRPS <= 0 || c.RateLimit.AuthRPS <= 0 {
		return fmt.Errorf("rate limits must be > 0")
	}
	return nil
}

// HasSnowflakeCredentials reports whether the statement endpoint can be reached.
func (c *Config) HasSnowflakeCredentials() bool {
	return c.Snowflake.AccountIdentifier != "" && c.Snowflake.PAT != ""
}

// SnowflakeHost returns the account's base URL.
func (c *Config) SnowflakeHost() string {
	return "https://" + c.Snowflake.AccountIdentifier + ".snowflakecomputing.com"
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
