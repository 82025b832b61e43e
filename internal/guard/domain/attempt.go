package domain

import "time"

type AttemptKind string

const (
	AttemptSuccess   AttemptKind = "SUCCESS"
	AttemptFailure   AttemptKind = "FAILURE"
	AttemptIntrusion AttemptKind = "INTRUSION"
	AttemptLockout   AttemptKind = "LOCKOUT"
)

// AttemptResult is the verdict of a single scored frame.
type AttemptResult struct {
	Similarity float64
	Passed     bool
	At         time.Time
}

// AttemptRecord is one line of the attempt log and one row of auth_attempts.
type AttemptRecord struct {
	ID           string
	Kind         AttemptKind
	ProfileID    string
	Similarity   float64
	FailureCount int
	Details      string
	Artifacts    []string // intrusion snapshots written for this event
	At           time.Time
}
