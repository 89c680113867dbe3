package domain

import (
	"time"
)

// Session is an authenticated login. The Session Store owns the authoritative list.
type Session struct {
	SID       string    `json:"sid"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// PresenceEntry is the in-memory heartbeat record for one session.
type PresenceEntry struct {
	SID        string
	UserID     string
	Username   string
	LastSeenAt time.Time
}
