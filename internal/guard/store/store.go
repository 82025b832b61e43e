package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Sub-repositories are exposed as
// methods so a Tx-scoped Store can hand out the same repos bound to the
// transaction.
type Store interface {
	Profiles() Profiles
	References() References
	Attempts() Attempts

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Profiles interface {
	// CreateProfile inserts a new profile (id is provided by the caller via ULID).
	CreateProfile(ctx context.Context, p domain.UserProfile) error

	// GetProfileByID returns a profile that has not been soft-deleted,
	// without its references.
	GetProfileByID(ctx context.Context, id string) (domain.UserProfile, error)

	// GetProfileByName returns the live profile with the given display name.
	GetProfileByName(ctx context.Context, name string) (domain.UserProfile, error)

	// ListProfiles returns every profile that has not been soft-deleted,
	// oldest first, without references.
	ListProfiles(ctx context.Context) ([]domain.UserProfile, error)

	// UpdateStats overwrites the calibration counters and bumps updated_at.
	UpdateStats(ctx context.Context, id string, successes, failures int, avgConfidence float64) error

	// SoftDeleteProfile sets deleted_at and clears the active flag.
	SoftDeleteProfile(ctx context.Context, id string) error

	// CountProfiles counts profiles that have not been soft-deleted.
	CountProfiles(ctx context.Context) (int, error)
}

type References interface {
	AddReference(ctx context.Context, r domain.ReferenceImage) error

	// ListReferences returns a profile's references oldest first.
	ListReferences(ctx context.Context, profileID string) ([]domain.ReferenceImage, error)

	DeleteReference(ctx context.Context, id string) error

	// DeleteReferencesForProfile removes every reference row of a profile.
	DeleteReferencesForProfile(ctx context.Context, profileID string) error
}

type Attempts interface {
	RecordAttempt(ctx context.Context, a domain.AttemptRecord) error

	// ListRecentAttempts returns up to limit records, newest first.
	ListRecentAttempts(ctx context.Context, limit int) ([]domain.AttemptRecord, error)

	// ListArtifactsBefore returns non-empty artifact paths of records created before t.
	ListArtifactsBefore(ctx context.Context, t time.Time) ([]string, error)

	// DeleteAttemptsBefore removes records created before t and reports how many.
	DeleteAttemptsBefore(ctx context.Context, t time.Time) (int64, error)
}
