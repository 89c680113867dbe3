package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Hjgyhfyh/site/internal/domain"
)

type usersDocument struct {
	Users []domain.User `json:"users"`
}

type sessionsDocument struct {
	Sessions []domain.Session `json:"sessions"`
}

// JSONStore implements Repository on plain JSON files under a data directory:
// users.json, sessions.json and chats/<user id>.json.
type JSONStore struct {
	dir         string
	legacyChats string
	logger      *slog.Logger

	mu sync.Mutex
}

// NewJSON creates the data directory layout and seeds empty documents.
// legacyChats, if set, is migrated to the only user's chats on first read.
func NewJSON(dir, legacyChats string, logger *slog.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, "chats"), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	s := &JSONStore{dir: dir, legacyChats: legacyChats, logger: logger}
	seeds := map[string]any{
		s.usersPath():    usersDocument{Users: []domain.User{}},
		s.sessionsPath(): sessionsDocument{Sessions: []domain.Session{}},
	}
	for path, doc := range seeds {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := writeJSONAtomic(path, doc); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (s *JSONStore) usersPath() string    { return filepath.Join(s.dir, "users.json") }
func (s *JSONStore) sessionsPath() string { return filepath.Join(s.dir, "sessions.json") }
func (s *JSONStore) chatsPath(userID string) string {
	return filepath.Join(s.dir, "chats", userID+".json")
}

// Ping checks that the data directory is still there.
func (s *JSONStore) Ping(context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", s.dir)
	}
	return nil
}

// Close is a no-op; every write is flushed before it returns.
func (s *JSONStore) Close() error { return nil }

// loadUsers accepts both {"users":[...]} and a bare array. Unreadable files
// count as empty.
func (s *JSONStore) loadUsers() []domain.User {
	var raw json.RawMessage
	if err := readJSONFile(s.usersPath(), &raw); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to read users file", "error", err)
		}
		return nil
	}
	var list []domain.User
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var doc usersDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("Users file has unexpected shape", "error", err)
		return nil
	}
	return doc.Users
}

// GetUser retrieves a user by ID.
func (s *JSONStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.loadUsers() {
		if u.ID == userID {
			return &u, nil
		}
	}
	return nil, nil
}

// GetUserByUsername retrieves a user by case-insensitive username.
func (s *JSONStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.NormalizeUsername(username)
	for _, u := range s.loadUsers() {
		if domain.NormalizeUsername(u.Username) == key {
			return &u, nil
		}
	}
	return nil, nil
}

// CreateUser appends a user. The username check and the write happen under one lock.
func (s *JSONStore) CreateUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.loadUsers()
	key := domain.NormalizeUsername(user.Username)
	for _, u := range users {
		if domain.NormalizeUsername(u.Username) == key {
			return ErrUsernameTaken
		}
	}
	users = append(users, *user)
	if err := writeJSONAtomic(s.usersPath(), usersDocument{Users: users}); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// CountUsers returns the number of registered users.
func (s *JSONStore) CountUsers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loadUsers()), nil
}

// LoadSessions returns the persisted session list.
func (s *JSONStore) LoadSessions(context.Context) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw json.RawMessage
	if err := readJSONFile(s.sessionsPath(), &raw); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Failed to read sessions file", "error", err)
		}
		return []domain.Session{}, nil
	}
	var list []domain.Session
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var doc sessionsDocument
	if err := json.Unmarshal(raw, &doc); err != nil || doc.Sessions == nil {
		return []domain.Session{}, nil
	}
	return doc.Sessions, nil
}

// SaveSessions replaces the persisted session list.
func (s *JSONStore) SaveSessions(_ context.Context, sessions []domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessions == nil {
		sessions = []domain.Session{}
	}
	if err := writeJSONAtomic(s.sessionsPath(), sessionsDocument{Sessions: sessions}); err != nil {
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

// ListChats returns the user's chats. A user without a chats file who is
// the only registered account inherits the legacy chats file.
func (s *JSONStore) ListChats(_ context.Context, userID string) ([]domain.Chat, error) {
	if !validID(userID) {
		return nil, ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.chatsPath(userID)
	var chats []domain.Chat
	err := readJSONFile(path, &chats)
	switch {
	case err == nil:
		if chats == nil {
			chats = []domain.Chat{}
		}
		return chats, nil
	case !errors.Is(err, fs.ErrNotExist):
		s.logger.Warn("Failed to read chats file", "user_id", userID, "error", err)
		return []domain.Chat{}, nil
	}

	return s.migrateLegacy(userID), nil
}

func (s *JSONStore) migrateLegacy(userID string) []domain.Chat {
	if !legacyExists(s.legacyChats) {
		return []domain.Chat{}
	}
	users := s.loadUsers()
	if len(users) != 1 || users[0].ID != userID {
		return []domain.Chat{}
	}
	chats, ok := readLegacyChats(s.legacyChats)
	if !ok {
		return []domain.Chat{}
	}
	if err := writeJSONAtomic(s.chatsPath(userID), chats); err != nil {
		s.logger.Warn("Failed to persist migrated chats", "user_id", userID, "error", err)
	} else {
		s.logger.Info("Migrated legacy chats", "user_id", userID, "count", len(chats))
	}
	return chats
}

// SaveChats replaces the user's chats.
func (s *JSONStore) SaveChats(_ context.Context, userID string, chats []domain.Chat) error {
	if !validID(userID) {
		return ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if chats == nil {
		chats = []domain.Chat{}
	}
	if err := writeJSONAtomic(s.chatsPath(userID), chats); err != nil {
		return fmt.Errorf("save chats: %w", err)
	}
	return nil
}

// writeJSONAtomic writes v to a temp file next to path and renames it into place.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
