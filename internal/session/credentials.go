package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Hjgyhfyh/site/internal/domain"
	"golang.org/x/crypto/scrypt"
)

var (
	// ErrInvalidUsername is returned for usernames outside [A-Za-z0-9_.-]{3,32}.
	ErrInvalidUsername = errors.New("username must be 3-32 chars: letters, numbers, _, ., -")

	// ErrInvalidPassword is returned for passwords outside 4-128 characters.
	ErrInvalidPassword = errors.New("password must be 4-128 chars")

	// ErrInvalidCredentials is returned when a login matches no account.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
	saltBytes    = 16
)

// ValidateCredentials checks registration input.
func ValidateCredentials(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	if n := utf8.RuneCountInString(password); n < 4 || n > 128 {
		return ErrInvalidPassword
	}
	return nil
}

// HashPassword returns "scrypt:<salt hex>:<key hex>". The hex salt string
// itself is the scrypt salt, so existing hashes keep verifying.
func HashPassword(password string) (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(buf)
	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	return "scrypt:" + salt + ":" + hex.EncodeToString(key), nil
}

// VerifyPassword reports whether password matches stored. Malformed hashes never match.
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, ":")
	if len(parts) != 3 || parts[0] != "scrypt" {
		return false
	}
	saved, err := hex.DecodeString(parts[2])
	if err != nil || len(saved) == 0 {
		return false
	}
	actual, err := scrypt.Key([]byte(password), []byte(parts[1]), scryptN, scryptR, scryptP, len(saved))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(actual, saved) == 1
}

// Authenticate checks password against user. A nil user fails the same way
// as a wrong password.
func Authenticate(user *domain.User, password string) error {
	if user == nil || !VerifyPassword(password, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	return nil
}
