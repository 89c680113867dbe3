package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/identity"
	"github.com/Hjgyhfyh/site/internal/session"
	"github.com/Hjgyhfyh/site/internal/store"
	"github.com/google/uuid"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userResponse struct {
	User domain.PublicUser `json:"user"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Register creates an account and signs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	_ = decodeJSON(w, r, &body) // a malformed body fails validation below
	username := strings.TrimSpace(body.Username)

	switch err := session.ValidateCredentials(username, body.Password); {
	case errors.Is(err, session.ErrInvalidUsername):
		Error(w, http.StatusBadRequest, "Username must be 3-32 chars: letters, numbers, _, ., -")
		return
	case errors.Is(err, session.ErrInvalidPassword):
		Error(w, http.StatusBadRequest, "Password must be 4-128 chars")
		return
	}

	existing, err := h.deps.Users.GetUserByUsername(r.Context(), username)
	if err != nil {
		slog.Error("Register lookup failed", "error", err)
		Error(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	if existing != nil {
		Error(w, http.StatusConflict, "Username already exists")
		return
	}

	hash, err := session.HashPassword(body.Password)
	if err != nil {
		slog.Error("Password hashing failed", "error", err)
		Error(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.deps.Users.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			Error(w, http.StatusConflict, "Username already exists")
			return
		}
		slog.Error("Create user failed", "error", err)
		Error(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	slog.Info("User registered", "user_id", user.ID, "username", user.Username)

	h.signIn(w, r, user.Public(), "Registration failed")
}

// Login verifies credentials and signs the user in. Failures never set a cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	_ = decodeJSON(w, r, &body)

	user, err := h.deps.Users.GetUserByUsername(r.Context(), strings.TrimSpace(body.Username))
	if err != nil {
		slog.Error("Login lookup failed", "error", err)
		Error(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if err := session.Authenticate(user, body.Password); err != nil {
		Error(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	h.signIn(w, r, user.Public(), "Login failed")
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, user domain.PublicUser, failure string) {
	token, sess, err := h.deps.Sessions.Create(r.Context(), user)
	if err != nil {
		slog.Error("Session creation failed", "user_id", user.ID, "error", err)
		Error(w, http.StatusInternalServerError, failure)
		return
	}
	h.deps.Presence.Touch(sess)
	h.deps.Auth.SetCookie(w, token)
	JSON(w, http.StatusOK, userResponse{User: user})
}

// Logout ends the caller's session, if any. It always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, sess, ok := h.deps.Auth.Resolve(r); ok {
		h.deps.Sessions.Invalidate(r.Context(), sess.SID)
		slog.Info("User logged out", "user_id", sess.UserID)
	}
	h.deps.Auth.ClearCookie(w)
	JSON(w, http.StatusOK, successResponse{Success: true})
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	JSON(w, http.StatusOK, userResponse{User: user})
}

// Ping is a heartbeat; the auth middleware already refreshed presence.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, successResponse{Success: true})
}
