package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Hjgyhfyh/site/internal/completion"
	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/identity"
	"github.com/Hjgyhfyh/site/internal/statement"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	msgChatRequired = "model and messages required"
	msgChatTimeout  = "The model took too long to respond. Please try again."
	msgChatFailed   = "Model request failed. Please try again."
)

type chatResponse struct {
	Response     string `json:"response"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// Chat answers a conversation with the model or task handler it names.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, "chat", func(ctx context.Context, req domain.ChatRequest) (string, error) {
		text, _, err := h.deps.Router.Route(ctx, req)
		return text, err
	})
}

// Regenerate recomputes the last reply with a generic completion.
func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, "regenerate", h.deps.Router.Regenerate)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request, op string, run func(context.Context, domain.ChatRequest) (string, error)) {
	var req domain.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Model) == "" || req.Messages == nil {
		Error(w, http.StatusBadRequest, msgChatRequired)
		return
	}

	ctx := r.Context()
	response, err := run(ctx, req)

	// the client is gone; nobody is left to read an answer
	if ctx.Err() != nil || errors.Is(err, statement.ErrCancelled) {
		slog.Debug("Chat request cancelled by client", "op", op, "request_id", middleware.GetReqID(ctx))
		return
	}

	if err != nil {
		user, _ := identity.UserFromContext(ctx)
		slog.Error("Chat request failed",
			"op", op,
			"model", req.Model,
			"user_id", user.ID,
			"request_id", middleware.GetReqID(ctx),
			"kind", statement.Kind(err),
			"error", err,
		)
		status, msg := chatFailure(err)
		Error(w, status, msg)
		return
	}

	contents := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		contents[i] = m.Content
	}
	JSON(w, http.StatusOK, chatResponse{
		Response:     response,
		InputTokens:  completion.EstimateTokens(strings.Join(contents, "\n")),
		OutputTokens: completion.EstimateTokens(response),
	})
}

// chatFailure maps a model error to the status and message shown to the user.
func chatFailure(err error) (int, string) {
	var pollErr *statement.PollError
	switch {
	case errors.Is(err, completion.ErrEmptyConversation):
		return http.StatusBadRequest, msgChatRequired
	case errors.Is(err, completion.ErrOperationTimeout), statement.Retryable(err):
		return http.StatusInternalServerError, msgChatTimeout
	case errors.As(err, &pollErr):
		return http.StatusInternalServerError, msgChatFailed
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
