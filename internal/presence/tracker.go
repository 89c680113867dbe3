// Package presence counts distinct online accounts from session heartbeats
// and pushes count changes to subscribers.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Hjgyhfyh/site/internal/domain"
	"github.com/Hjgyhfyh/site/internal/metrics"
)

// LiveSet reports whether a session still exists.
type LiveSet interface {
	Has(sid string) bool
}

// Tracker holds one heartbeat entry per session.
type Tracker struct {
	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	live    LiveSet
	entries map[string]domain.PresenceEntry
	subs    map[chan int]struct{}
	last    int
}

// NewTracker creates a tracker that treats entries older than window as offline.
func NewTracker(window time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		window:  window,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]domain.PresenceEntry),
		subs:    make(map[chan int]struct{}),
		last:    -1,
	}
}

// SetClock replaces time.Now, for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetLiveSet binds the tracker to the session store. Once bound, Touch
// ignores sessions the store no longer holds.
func (t *Tracker) SetLiveSet(live LiveSet) {
	t.mu.Lock()
	t.live = live
	t.mu.Unlock()
}

// Touch records activity for a session. A session removed before the touch
// lands is not recreated: the store drops it before its removal hooks run
// Forget, and the check below holds t.mu.
func (t *Tracker) Touch(sess domain.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live != nil && !t.live.Has(sess.SID) {
		return
	}
	t.entries[sess.SID] = domain.PresenceEntry{
		SID:        sess.SID,
		UserID:     sess.UserID,
		Username:   sess.Username,
		LastSeenAt: t.now(),
	}
	t.publishLocked()
}

// Forget drops a session's entry, typically on logout.
func (t *Tracker) Forget(sid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[sid]; !ok {
		return
	}
	delete(t.entries, sid)
	t.publishLocked()
}

// Count returns the number of distinct users seen within the window.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked()
}

// Sweep drops entries that are stale or whose session is gone, then pushes
// the count if it changed.
func (t *Tracker) Sweep(live LiveSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for sid, e := range t.entries {
		if now.Sub(e.LastSeenAt) > t.window || (live != nil && !live.Has(sid)) {
			delete(t.entries, sid)
		}
	}
	t.publishLocked()
}

// Subscribe returns a channel that carries the current count immediately
// and every later change. Only the latest value is buffered; a slow reader
// skips intermediate counts. Call cancel to unsubscribe.
func (t *Tracker) Subscribe() (<-chan int, func()) {
	ch := make(chan int, 1)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	ch <- t.countLocked()
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
		})
	}
	return ch, cancel
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, live LiveSet) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	t.logger.Info("Presence janitor started", "interval", interval, "window", t.window)

	for {
		select {
		case <-ticker.C:
			t.Sweep(live)
		case <-ctx.Done():
			t.logger.Info("Presence janitor shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func (t *Tracker) countLocked() int {
	now := t.now()
	users := make(map[string]struct{}, len(t.entries))
	for _, e := range t.entries {
		if now.Sub(e.LastSeenAt) <= t.window {
			users[e.UserID] = struct{}{}
		}
	}
	return len(users)
}

// publishLocked pushes the count to every subscriber when it differs from
// the last pushed value.
func (t *Tracker) publishLocked() {
	count := t.countLocked()
	metrics.SetOnlineUsers(count)
	if count == t.last {
		return
	}
	t.last = count
	for ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- count
	}
}
