package guardsdk

import "time"

// HealthResponse is returned by /livez and /readyz. Checks is only set on
// /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the dependencies readiness relies on.
type HealthChecks struct {
	Database   string `json:"database"`
	Enrollment string `json:"enrollment"`
}

// StatusResponse mirrors the authentication loop.
type StatusResponse struct {
	State           string     `json:"state"`
	Message         string     `json:"message"`
	Failures        int        `json:"failures"`
	MaxAttempts     int        `json:"maxAttempts"`
	LockRemainingMs int64      `json:"lockRemainingMs"`
	LastSimilarity  float64    `json:"lastSimilarity"`
	LastProfileID   string     `json:"lastProfileId,omitempty"`
	LastAttemptAt   *time.Time `json:"lastAttemptAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
}

// AttemptInfo is one recorded authentication event.
type AttemptInfo struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	ProfileID    string    `json:"profileId,omitempty"`
	Similarity   float64   `json:"similarity"`
	FailureCount int       `json:"failureCount"`
	Details      string    `json:"details,omitempty"`
	Artifacts    []string  `json:"artifacts,omitempty"`
	At           time.Time `json:"at"`
}

type ListAttemptsResponse struct {
	Attempts []AttemptInfo `json:"attempts"`
}

// ProfileInfo describes an enrolled identity. Credentials are never exposed.
type ProfileInfo struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	Role          string    `json:"role"`
	Successes     int       `json:"successes"`
	Failures      int       `json:"failures"`
	AvgConfidence float64   `json:"avgConfidence"`
	Threshold     float64   `json:"threshold"`
	References    int       `json:"references"`
	Enrolled      bool      `json:"enrolled"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ListProfilesResponse struct {
	Profiles []ProfileInfo `json:"profiles"`
}
