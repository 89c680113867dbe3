// Package completion routes chat requests to task-specific model handlers.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Hjgyhfyh/site/internal/deadline"
	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/metrics"
	"github.com/Hjgyhfyh/site/internal/statement"
)

// DefaultSystemPrompt opens every generic completion prompt.
const DefaultSystemPrompt = "You are a powerful Human assistant"

var (
	// ErrOperationTimeout means a whole model operation ran past its budget.
	ErrOperationTimeout = errors.New("model operation timeout")

	// ErrEmptyConversation means the request carried no message to act on.
	ErrEmptyConversation = errors.New("messages required")

	// ErrNoResponse means the endpoint returned an empty result set.
	ErrNoResponse = errors.New("no response from model")
)

// PromptSource resolves agent identifiers to prompt text.
type PromptSource interface {
	AgentPrompt(agentID string) string
}

// Config tunes prompt assembly and the operation budget.
type Config struct {
	SystemPrompt               string
	SQLModel                   string
	MaxPromptTokens            int
	MaxCustomInstructionsChars int
	MaxAttempts                int
	OperationTimeout           time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:               DefaultSystemPrompt,
		SQLModel:                   "mistral-large2",
		MaxPromptTokens:            150000,
		MaxCustomInstructionsChars: 6000,
		MaxAttempts:                3,
		OperationTimeout:           10 * time.Minute,
	}
}

// Router dispatches chat requests by model.
type Router struct {
	exec    statement.Executor
	prompts PromptSource
	cfg     Config
	logger  *slog.Logger
}

// NewRouter creates a router. prompts may be nil when no agents exist.
func NewRouter(exec statement.Executor, prompts PromptSource, cfg Config, logger *slog.Logger) *Router {
	def := DefaultConfig()
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.SQLModel == "" {
		cfg.SQLModel = def.SQLModel
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = def.MaxPromptTokens
	}
	if cfg.MaxCustomInstructionsChars <= 0 {
		cfg.MaxCustomInstructionsChars = def.MaxCustomInstructionsChars
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{exec: exec, prompts: prompts, cfg: cfg, logger: logger}
}

// Route answers req with the handler its model selects.
func (r *Router) Route(ctx context.Context, req domain.ChatRequest) (string, TaskKind, error) {
	kind := Classify(req.Model)
	text, err := r.run(ctx, kind, req)
	return text, kind, err
}

// Regenerate always answers with a generic completion, whatever the model.
func (r *Router) Regenerate(ctx context.Context, req domain.ChatRequest) (string, error) {
	return r.run(ctx, TaskComplete, req)
}

func (r *Router) run(ctx context.Context, kind TaskKind, req domain.ChatRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", ErrEmptyConversation
	}

	start := time.Now()
	scope := deadline.New(ctx, r.cfg.OperationTimeout, "Model processing")
	defer scope.Release()

	text, err := r.dispatch(scope.Context(), kind, req)
	if err != nil && scope.TimedOut() {
		err = fmt.Errorf("%w: %w", ErrOperationTimeout, scope.Cause())
	}

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, statement.ErrCancelled) || ctx.Err() != nil:
		status = "cancelled"
	case errors.Is(err, ErrOperationTimeout):
		status = "timeout"
	default:
		status = "error"
	}
	metrics.RecordChat(kind.String(), status, time.Since(start))

	if err != nil && status != "cancelled" {
		r.logger.Warn("Model request failed",
			"model", req.Model,
			"task", kind.String(),
			"kind", statement.Kind(err),
			"error", err,
		)
	}
	return text, err
}

func (r *Router) dispatch(ctx context.Context, kind TaskKind, req domain.ChatRequest) (string, error) {
	last := req.LastUserContent()
	switch kind {
	case TaskSentiment:
		return r.sentiment(ctx, last)
	case TaskTranslate:
		return r.translate(ctx, last)
	case TaskExtractAnswer:
		return r.extractAnswer(ctx, req.Messages, last)
	case TaskSummarize:
		return r.summarize(ctx, last)
	case TaskTextToSQL:
		return r.textToSQL(ctx, last)
	case TaskTranscribe:
		return transcribeNotice, nil
	case TaskVideo:
		return videoNotice, nil
	default:
		return r.complete(ctx, req)
	}
}

// complete runs a generic completion, halving the history and retrying when
// the endpoint rejects the prompt as too large.
func (r *Router) complete(ctx context.Context, req domain.ChatRequest) (string, error) {
	agentPrompt := ""
	if r.prompts != nil && req.AgentID != "" {
		agentPrompt = r.prompts.AgentPrompt(req.AgentID)
	}
	extra := BuildExtraPrompt(req.CustomInstructions, agentPrompt, r.cfg.MaxCustomInstructionsChars)
	preamble := SystemPreamble(r.cfg.SystemPrompt, extra)
	trimmed := TrimMessages(req.Messages, r.cfg.MaxPromptTokens, preamble)

	for attempt := 1; ; attempt++ {
		prompt := RenderPrompt(preamble, trimmed)
		sql := fmt.Sprintf("SELECT SNOWFLAKE.CORTEX.COMPLETE('%s', '%s') AS RESPONSE",
			statement.Escape(NormalizeModel(req.Model)), statement.Escape(prompt))

		res, err := r.exec.Execute(ctx, sql)
		if err == nil {
			if res.Empty() {
				return "", ErrNoResponse
			}
			return UnwrapCompletion(res.First()), nil
		}
		if attempt >= r.cfg.MaxAttempts || len(trimmed) <= 1 || !IsContextOverflow(err) {
			return "", err
		}

		drop := len(trimmed) / 2
		r.logger.Info("Prompt too large, retrying with shorter history",
			"model", req.Model,
			"attempt", attempt,
			"messages", len(trimmed),
			"dropped", drop,
		)
		metrics.RecordContextRetry()
		trimmed = trimmed[drop:]
	}
}
