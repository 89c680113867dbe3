// Package deadline composes per-layer timeouts with an outer cancellation
// signal and remembers which of the two ended the scope.
//
// A Scope is used at three layers: the whole model operation, the statement
// polling loop, and each outbound HTTP round-trip. Every layer gets its own
// Scope, so each can tell "my own budget ran out" apart from "something
// above me gave up".
package deadline

import (
	"context"
	"fmt"
	"time"
)

// Expired is the cancellation cause recorded when a Scope's own budget elapses.
type Expired struct {
	Label   string
	Timeout time.Duration
}

func (e *Expired) Error() string {
	return fmt.Sprintf("%s timeout (%dms)", e.Label, e.Timeout.Milliseconds())
}

// Scope is a derived context that ends when its budget elapses or its parent ends.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	cause  *Expired
}

// New derives a Scope from parent bounded by timeout. Release must be called
// on every exit path, typically with defer.
func New(parent context.Context, timeout time.Duration, label string) *Scope {
	if parent == nil {
		parent = context.Background()
	}
	cause := &Expired{Label: label, Timeout: timeout}
	ctx, cancel := context.WithTimeoutCause(parent, timeout, cause)
	return &Scope{ctx: ctx, cancel: cancel, cause: cause}
}

// Context returns the derived context.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Done mirrors Context().Done().
func (s *Scope) Done() <-chan struct{} {
	return s.ctx.Done()
}

// TimedOut reports whether this Scope ended because its own budget elapsed,
// as opposed to the parent being cancelled or timing out first.
func (s *Scope) TimedOut() bool {
	return context.Cause(s.ctx) == error(s.cause)
}

// Cause returns the Expired value when TimedOut, otherwise the parent's cause
// (or nil while the scope is still live).
func (s *Scope) Cause() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}

// Release stops the timer and detaches from the parent. Safe to call twice.
func (s *Scope) Release() {
	s.cancel()
}

// Sleep waits for d or until ctx ends, whichever comes first. It returns
// ctx's cause when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
