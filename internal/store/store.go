// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"regexp"

	"github.com/Hjgyhfyh/site/internal/domain"
)

var (
	// ErrUsernameTaken is returned by CreateUser when the normalized username exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidID is returned for identifiers unsafe to use as storage keys.
	ErrInvalidID = errors.New("invalid identifier")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// UserRepository persists registered accounts.
type UserRepository interface {
	// GetUser retrieves a user by ID. It returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by case-insensitive username.
	// It returns nil, nil when absent.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// CreateUser adds a user, failing with ErrUsernameTaken on a duplicate.
	CreateUser(ctx context.Context, user *domain.User) error

	// CountUsers returns the number of registered users.
	CountUsers(ctx context.Context) (int, error)
}

// SessionRepository persists the full session list as one unit.
type SessionRepository interface {
	LoadSessions(ctx context.Context) ([]domain.Session, error)
	SaveSessions(ctx context.Context, sessions []domain.Session) error
}

// ChatRepository persists each user's saved chats as one unit.
type ChatRepository interface {
	// ListChats returns the user's chats, or an empty list.
	ListChats(ctx context.Context, userID string) ([]domain.Chat, error)

	// SaveChats replaces the user's chats.
	SaveChats(ctx context.Context, userID string, chats []domain.Chat) error
}

// Repository is the full persistence surface.
type Repository interface {
	UserRepository
	SessionRepository
	ChatRepository

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}

func validID(id string) bool {
	return idPattern.MatchString(id)
}
