package domain

import "time"

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingFace
	StateAuthenticating
	StateLocked
	StateSucceeded
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFace:
		return "awaiting_face"
	case StateAuthenticating:
		return "authenticating"
	case StateLocked:
		return "locked"
	case StateSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// LockoutState tracks consecutive failures and an active lockout window.
// Failures returns to 0 exactly when a lockout elapses or an attempt succeeds.
type LockoutState struct {
	Failures    int
	LockedAt    time.Time // zero when not locked
	MaxAttempts int
	Duration    time.Duration
}

// Locked reports whether a lockout is active at now.
func (l LockoutState) Locked(now time.Time) bool {
	return !l.LockedAt.IsZero() && now.Before(l.LockedAt.Add(l.Duration))
}

// Remaining is the time left in the lockout window, or 0.
func (l LockoutState) Remaining(now time.Time) time.Duration {
	if l.LockedAt.IsZero() {
		return 0
	}
	left := l.LockedAt.Add(l.Duration).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether a lockout was entered and has fully elapsed.
func (l LockoutState) Expired(now time.Time) bool {
	return !l.LockedAt.IsZero() && !now.Before(l.LockedAt.Add(l.Duration))
}
