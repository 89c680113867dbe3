package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hjgyhfyh/site/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	legacyChats string
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath, legacyChats string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, legacyChats: legacyChats}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		username_key TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		sid TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		username TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS chats (
		user_id TEXT PRIMARY KEY,
		chats_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*domain.User, error) {
	var user domain.User
	var createdAt int64
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &user, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, userID))
}

// GetUserByUsername retrieves a user by case-insensitive username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, username, password_hash, created_at FROM users WHERE username_key = ?`
	return s.scanUser(s.db.QueryRowContext(ctx, query, domain.NormalizeUsername(username)))
}

// CreateUser inserts a user; the unique username_key enforces ErrUsernameTaken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (id, username, username_key, password_hash, created_at)
	VALUES (?, ?, ?, ?, ?)`

	err := withBusyRetry(ctx, "create user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.ID, user.Username, domain.NormalizeUsername(user.Username),
			user.PasswordHash, user.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUsernameTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CountUsers returns the number of registered users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// LoadSessions returns every persisted session.
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sid, user_id, username, created_at, expires_at FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close sessions rows", "error", closeErr)
		}
	}()

	sessions := []domain.Session{}
	for rows.Next() {
		var sess domain.Session
		var createdAt, expiresAt int64
		if err := rows.Scan(&sess.SID, &sess.UserID, &sess.Username, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sess.CreatedAt = time.UnixMilli(createdAt).UTC()
		sess.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SaveSessions replaces the session table in one transaction.
func (s *SQLiteStore) SaveSessions(ctx context.Context, sessions []domain.Session) error {
	return withBusyRetry(ctx, "save sessions", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO sessions (sid, user_id, username, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare session insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, sess := range sessions {
			if _, err := stmt.ExecContext(ctx,
				sess.SID, sess.UserID, sess.Username,
				sess.CreatedAt.UnixMilli(), sess.ExpiresAt.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert session: %w", err)
			}
		}
		return tx.Commit()
	})
}

// ListChats returns the user's chats, migrating the legacy file for a sole user.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	if !validID(userID) {
		return nil, ErrInvalidID
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT chats_json FROM chats WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return s.migrateLegacy(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}

	var chats []domain.Chat
	if err := json.Unmarshal([]byte(raw), &chats); err != nil || chats == nil {
		return []domain.Chat{}, nil
	}
	return chats, nil
}

func (s *SQLiteStore) migrateLegacy(ctx context.Context, userID string) ([]domain.Chat, error) {
	if !legacyExists(s.legacyChats) {
		return []domain.Chat{}, nil
	}
	n, err := s.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return []domain.Chat{}, nil
	}
	if u, err := s.GetUser(ctx, userID); err != nil || u == nil {
		return []domain.Chat{}, err
	}
	chats, ok := readLegacyChats(s.legacyChats)
	if !ok {
		return []domain.Chat{}, nil
	}
	if err := s.SaveChats(ctx, userID, chats); err != nil {
		slog.Warn("Failed to persist migrated chats", "user_id", userID, "error", err)
	}
	return chats, nil
}

// SaveChats replaces the user's chats.
func (s *SQLiteStore) SaveChats(ctx context.Context, userID string, chats []domain.Chat) error {
	if !validID(userID) {
		return ErrInvalidID
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	raw, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("encode chats: %w", err)
	}

	query := `
	INSERT INTO chats (user_id, chats_json, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		chats_json = excluded.chats_json,
		updated_at = excluded.updated_at`

	err = withBusyRetry(ctx, "save chats", func() error {
		_, err := s.db.ExecContext(ctx, query, userID, string(raw), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert chats: %w", err)
	}
	return nil
}
