// Package api provides HTTP handlers for the chat API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Hjgyhfyh/site/internal/completion"
	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/identity"
	"github.com/Hjgyhfyh/site/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 10 << 20

// SessionStore issues and revokes sessions.
type SessionStore interface {
	Create(ctx context.Context, user domain.PublicUser) (string, domain.Session, error)
	Invalidate(ctx context.Context, sid string)
}

// PresenceTracker counts online accounts.
type PresenceTracker interface {
	Touch(sess domain.Session)
	Count() int
	Subscribe() (<-chan int, func())
}

// ModelCatalog lists selectable models and agents.
type ModelCatalog interface {
	Models() []string
	Agents() []domain.Agent
}

// ChatRouter answers chat requests.
type ChatRouter interface {
	Route(ctx context.Context, req domain.ChatRequest) (string, completion.TaskKind, error)
	Regenerate(ctx context.Context, req domain.ChatRequest) (string, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators a Handler serves from.
type Deps struct {
	Users    store.UserRepository
	Chats    store.ChatRepository
	Storage  Pinger
	Sessions SessionStore
	Auth     *identity.Authenticator
	Presence PresenceTracker
	Catalog  ModelCatalog
	Router   ChatRouter

	// Optional per-route-group middleware, typically rate limiters.
	AuthLimit func(http.Handler) http.Handler
	ChatLimit func(http.Handler) http.Handler

	AdminUser      string
	Keepalive      time.Duration
	AppVersion     string
	StartedAt      time.Time
	AllowedOrigins []string
}

// Handler serves every /api route.
type Handler struct {
	deps Deps

	// chatLocks serializes load-modify-save of one user's chats.
	chatLocks sync.Map
}

// NewHandler creates a Handler.
func NewHandler(deps Deps) *Handler {
	if deps.Keepalive <= 0 {
		deps.Keepalive = 15 * time.Second
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	return &Handler{deps: deps}
}

// RegisterRoutes mounts the API under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/version", h.Version)
		r.Get("/health", h.Health)
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			if h.deps.AuthLimit != nil {
				r.Use(h.deps.AuthLimit)
			}
			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.deps.Auth.Middleware)

			r.Get("/auth/me", h.Me)
			r.Post("/auth/ping", h.Ping)
			r.Get("/auth/online-count", h.OnlineCount)
			r.Get("/auth/online-count/ws", h.OnlineCountWS)

			r.Get("/models", h.Models)
			r.Get("/agents", h.Agents)

			r.Get("/chats", h.ListChats)
			r.Post("/chats/save", h.SaveChat)
			r.Delete("/chats/{id}", h.DeleteChat)

			r.Group(func(r chi.Router) {
				if h.deps.ChatLimit != nil {
					r.Use(h.deps.ChatLimit)
				}
				r.Post("/chat", h.Chat)
				r.Post("/chat/regenerate", h.Regenerate)
			})
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (h *Handler) isAdmin(user domain.PublicUser) bool {
	return h.deps.AdminUser != "" && domain.NormalizeUsername(user.Username) == h.deps.AdminUser
}

// originPatterns converts configured CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimPrefix(o, "https://")
		o = strings.TrimPrefix(o, "http://")
		if o != "" {
			out = append(out, strings.TrimSuffix(o, "/"))
		}
	}
	return out
}
