// Package identity resolves the authenticated account behind a request.
package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Hjgyhfyh/site/internal/domain"
)

const (
	// CookieName carries the session token.
	CookieName = "arena_auth"

	bearerPrefix = "Bearer "
)

type contextKey int

const (
	userKey contextKey = iota
	sessionKey
)

// Sessions resolves and revokes session tokens.
type Sessions interface {
	Lookup(token string) (domain.Session, bool)
	Invalidate(ctx context.Context, sid string)
}

// Users looks up accounts by ID.
type Users interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Presence records account activity.
type Presence interface {
	Touch(sess domain.Session)
}

// Authenticator turns request credentials into a user and session.
type Authenticator struct {
	sessions Sessions
	users    Users
	presence Presence
	ttl      time.Duration
	secure   bool
}

// NewAuthenticator creates an Authenticator. Cookies it sets are marked
// Secure unless isDev.
func NewAuthenticator(sessions Sessions, users Users, presence Presence, ttl time.Duration, isDev bool) *Authenticator {
	return &Authenticator{
		sessions: sessions,
		users:    users,
		presence: presence,
		ttl:      ttl,
		secure:   !isDev,
	}
}

// TokenFromRequest returns the session token from the auth cookie, falling
// back to a Bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}

// Resolve returns the request's user and session. A live session whose user
// no longer exists is invalidated.
func (a *Authenticator) Resolve(r *http.Request) (domain.PublicUser, domain.Session, bool) {
	token := TokenFromRequest(r)
	if token == "" {
		return domain.PublicUser{}, domain.Session{}, false
	}
	sess, ok := a.sessions.Lookup(token)
	if !ok {
		return domain.PublicUser{}, domain.Session{}, false
	}

	user, err := a.users.GetUser(r.Context(), sess.UserID)
	if err != nil {
		slog.Error("Failed to load session user", "user_id", sess.UserID, "error", err)
		return domain.PublicUser{}, domain.Session{}, false
	}
	if user == nil {
		a.sessions.Invalidate(r.Context(), sess.SID)
		return domain.PublicUser{}, domain.Session{}, false
	}
	return user.Public(), sess, true
}

// Middleware rejects unauthenticated requests with 401 and a cleared cookie.
// Authenticated requests refresh presence and carry the user and session in
// their context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, sess, ok := a.Resolve(r)
		if !ok {
			a.ClearCookie(w)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authentication required"})
			return
		}

		if a.presence != nil {
			a.presence.Touch(sess)
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetCookie stores token in the auth cookie for the session lifetime.
func (a *Authenticator) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.secure,
	})
}

// ClearCookie expires the auth cookie.
func (a *Authenticator) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.secure,
	})
}

// UserFromContext returns the authenticated user.
func UserFromContext(ctx context.Context) (domain.PublicUser, bool) {
	u, ok := ctx.Value(userKey).(domain.PublicUser)
	return u, ok
}

// SessionFromContext returns the authenticated session.
func SessionFromContext(ctx context.Context) (domain.Session, bool) {
	s, ok := ctx.Value(sessionKey).(domain.Session)
	return s, ok
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientKey identifies the caller for rate limiting: the account when
// authenticated, otherwise the remote IP.
func ClientKey(r *http.Request) string {
	if u, ok := UserFromContext(r.Context()); ok {
		return "user:" + u.ID
	}
	return "ip:" + IPFromRequest(r)
}
