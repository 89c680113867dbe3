package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature or expiry checks.
var ErrInvalidToken = errors.New("invalid session token")

type tokenClaims struct {
	SID      string `json:"sid"`
	UserID   string `json:"uid"`
	Username string `json:"un"`
	jwt.RegisteredClaims
}

// signer issues and verifies HS256 session tokens.
type signer struct {
	key []byte
	now func() time.Time
}

func (s *signer) sign(sid, userID, username string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := tokenClaims{
		SID:      sid,
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

// parse returns the session id carried by a valid token.
func (s *signer) parse(raw string) (string, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.SID == "" {
		return "", ErrInvalidToken
	}
	return claims.SID, nil
}

// LoadSecret returns the signing secret: envSecret when set, else the
// contents of path, else a fresh random secret written to path. If the
// write fails the secret lives in memory only and sessions will not survive
// a restart.
func LoadSecret(envSecret, path string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	if s := strings.TrimSpace(envSecret); s != "" {
		return s
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if s := strings.TrimSpace(string(raw)); s != "" {
			return s
		}
	} else if !os.IsNotExist(err) {
		logger.Error("Failed to read auth secret file", "path", path, "error", err)
	}

	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	secret := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		err = os.WriteFile(path, []byte(secret), 0o600)
		if err == nil {
			return secret
		}
	}
	logger.Warn("Using in-memory auth secret; set AUTH_SECRET for stable sessions on read-only filesystems", "path", path)
	return secret
}
