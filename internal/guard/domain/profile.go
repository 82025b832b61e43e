package domain

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStandard Role = "standard"
	RoleGuest    Role = "guest"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStandard, RoleGuest:
		return true
	}
	return false
}

type UserProfile struct {
	ID            string
	DisplayName   string
	Role          Role
	Successes     int
	Failures      int
	AvgConfidence float64
	References    []ReferenceImage // oldest first
	Active        bool
	Guest         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time // set by soft delete
}

// Total is the number of counted attempts feeding AvgConfidence.
func (p UserProfile) Total() int {
	return p.Successes + p.Failures
}

// ReferencePaths returns the JPEG paths of the reference set, oldest first.
func (p UserProfile) ReferencePaths() []string {
	out := make([]string, 0, len(p.References))
	for _, r := range p.References {
		out = append(out, r.Path)
	}
	return out
}

type ReferenceImage struct {
	ID        string
	ProfileID string
	Path      string
	CreatedAt time.Time
}

// EnrolledCredential is the decrypted form of a profile's stored credential.
type EnrolledCredential struct {
	ProfileID  string
	Embedding  Embedding
	EnrolledAt time.Time
}
