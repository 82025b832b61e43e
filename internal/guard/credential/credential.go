// Package credential persists the enrolled embedding of each profile,
// encrypted at rest, next to its reference face image.
package credential

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/pkg/cryptox"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrNotEnrolled = errors.New("credential: not enrolled")
	ErrCorrupt     = errors.New("credential: corrupt or tampered")
	ErrInvalidID   = errors.New("credential: invalid profile id")
)

const (
	payloadVersion = 1

	credentialsDir = "credentials"
	referencesDir  = "references"
	referenceFile  = "enrolled.jpg"
)

// payload is the plaintext sealed into the credential file.
type payload struct {
	Version    int       `cbor:"1,keyasint"`
	ProfileID  string    `cbor:"2,keyasint"`
	Embedding  []float64 `cbor:"3,keyasint"`
	EnrolledAt int64     `cbor:"4,keyasint"` // unix millis
}

// Store keeps one sealed credential file and one reference JPEG per profile
// under DataDir.
type Store struct {
	DataDir string
	Sealer  *cryptox.Sealer
}

func NewStore(dataDir string, sealer *cryptox.Sealer) *Store {
	return &Store{DataDir: dataDir, Sealer: sealer}
}

func (s *Store) CredentialPath(profileID string) string {
	return filepath.Join(s.DataDir, credentialsDir, profileID+".enc")
}

// ReferenceDir holds every reference image of a profile.
func (s *Store) ReferenceDir(profileID string) string {
	return filepath.Join(s.DataDir, referencesDir, profileID)
}

func (s *Store) ReferencePath(profileID string) string {
	return filepath.Join(s.ReferenceDir(profileID), referenceFile)
}

// Save writes the reference image first and the sealed embedding last, each
// through a temp file and rename, so a credential file only ever exists
// next to a complete reference.
func (s *Store) Save(profileID string, emb domain.Embedding, reference image.Image, at time.Time) error {
	if err := validateID(profileID); err != nil {
		return err
	}
	if len(emb) != domain.EmbeddingSize || emb.IsZero() {
		return fmt.Errorf("credential: refusing to store an empty embedding")
	}

	jpg, err := vision.EncodeJPEG(reference, vision.DefaultJPEGQuality)
	if err != nil {
		return err
	}

	plain, err := cbor.Marshal(payload{
		Version:    payloadVersion,
		ProfileID:  profileID,
		Embedding:  emb,
		EnrolledAt: at.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	sealed, err := s.Sealer.Seal(plain)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}

	if err := WriteFileAtomic(s.ReferencePath(profileID), jpg, 0o600); err != nil {
		return fmt.Errorf("failed to write reference image: %w", err)
	}
	if err := WriteFileAtomic(s.CredentialPath(profileID), sealed, 0o600); err != nil {
		return fmt.Errorf("failed to write credential: %w", err)
	}
	return nil
}

// Load decrypts the credential of profileID. A missing file is
// ErrNotEnrolled; anything that fails to open or decode is ErrCorrupt.
func (s *Store) Load(profileID string) (domain.EnrolledCredential, error) {
	if err := validateID(profileID); err != nil {
		return domain.EnrolledCredential{}, err
	}

	sealed, err := os.ReadFile(s.CredentialPath(profileID))
	if errors.Is(err, os.ErrNotExist) {
		return domain.EnrolledCredential{}, ErrNotEnrolled
	}
	if err != nil {
		return domain.EnrolledCredential{}, fmt.Errorf("failed to read credential: %w", err)
	}

	plain, err := s.Sealer.Open(sealed)
	if err != nil {
		return domain.EnrolledCredential{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var p payload
	if err := cbor.Unmarshal(plain, &p); err != nil {
		return domain.EnrolledCredential{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if p.Version != payloadVersion || p.ProfileID != profileID || len(p.Embedding) != domain.EmbeddingSize {
		return domain.EnrolledCredential{}, ErrCorrupt
	}

	return domain.EnrolledCredential{
		ProfileID:  p.ProfileID,
		Embedding:  domain.Embedding(p.Embedding),
		EnrolledAt: time.UnixMilli(p.EnrolledAt).UTC(),
	}, nil
}

// LoadReference decodes the enrolled reference image.
func (s *Store) LoadReference(profileID string) (image.Image, error) {
	if err := validateID(profileID); err != nil {
		return nil, err
	}
	img, err := vision.DecodeFile(s.ReferencePath(profileID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotEnrolled
	}
	return img, err
}

// Exists reports whether a credential file is present for profileID.
func (s *Store) Exists(profileID string) bool {
	if validateID(profileID) != nil {
		return false
	}
	_, err := os.Stat(s.CredentialPath(profileID))
	return err == nil
}

// Delete removes the credential and every reference image of profileID.
// Deleting a profile that was never enrolled is not an error.
func (s *Store) Delete(profileID string) error {
	if err := validateID(profileID); err != nil {
		return err
	}
	if err := os.Remove(s.CredentialPath(profileID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	if err := os.RemoveAll(s.ReferenceDir(profileID)); err != nil {
		return fmt.Errorf("failed to remove references: %w", err)
	}
	return nil
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return ErrInvalidID
	}
	return nil
}
