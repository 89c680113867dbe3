package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/identity"
	"github.com/go-chi/chi/v5"
)

// lockChats serializes read-modify-write of one user's chat list.
func (h *Handler) lockChats(userID string) func() {
	v, _ := h.chatLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// ListChats returns the user's saved chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	chats, err := h.deps.Chats.ListChats(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to load chats", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to load chats")
		return
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	JSON(w, http.StatusOK, chats)
}

// SaveChat inserts the chat or replaces the one with the same id.
func (h *Handler) SaveChat(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	var chat domain.Chat
	if err := decodeJSON(w, r, &chat); err != nil || chat == nil {
		Error(w, http.StatusBadRequest, "Invalid chat")
		return
	}
	id := chat.ID()
	if id == "" {
		Error(w, http.StatusBadRequest, "Chat id required")
		return
	}

	unlock := h.lockChats(user.ID)
	defer unlock()

	chats, err := h.deps.Chats.ListChats(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to load chats", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to save chat")
		return
	}

	replaced := false
	for i := range chats {
		if chats[i].ID() == id {
			chats[i] = chat
			replaced = true
			break
		}
	}
	if !replaced {
		chats = append(chats, chat)
	}

	if err := h.deps.Chats.SaveChats(r.Context(), user.ID, chats); err != nil {
		slog.Error("Failed to save chats", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to save chat")
		return
	}
	JSON(w, http.StatusOK, successResponse{Success: true})
}

// DeleteChat removes the chat with the given id. Unknown ids succeed.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	id := chi.URLParam(r, "id")

	unlock := h.lockChats(user.ID)
	defer unlock()

	chats, err := h.deps.Chats.ListChats(r.Context(), user.ID)
	if err != nil {
		slog.Error("Failed to load chats", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to delete chat")
		return
	}

	kept := chats[:0]
	for _, c := range chats {
		if c.ID() != id {
			kept = append(kept, c)
		}
	}

	if err := h.deps.Chats.SaveChats(r.Context(), user.ID, kept); err != nil {
		slog.Error("Failed to save chats", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, "Failed to delete chat")
		return
	}
	JSON(w, http.StatusOK, successResponse{Success: true})
}
