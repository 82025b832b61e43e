package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/aussiebroadwan/faceguard/internal/guard/calibrate"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/embed"
	"github.com/aussiebroadwan/faceguard/internal/guard/similarity"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/pkg/idx"
	"github.com/jonboulle/clockwork"
)

var (
	ErrNoCredential   = errors.New("no enrolled credential")
	ErrInvalidRole    = errors.New("invalid role")
	ErrProfileMissing = errors.New("profile not found")
)

// ProfileService manages enrolled identities and matches faces against them.
type ProfileService struct {
	Store       store.Store
	Credentials *credential.Store
	Extractor   *embed.Extractor
	Scorer      *similarity.Scorer
	Calibrator  *calibrate.Calibrator
	Clock       clockwork.Clock
	Logger      *slog.Logger

	// ImageCorroboration compares the face against the stored reference
	// images too and keeps the higher of the two scores.
	ImageCorroboration bool
}

// Match is the best enrolled profile for a face.
type Match struct {
	Profile    domain.UserProfile
	Similarity float64 // max(Cosine, Image)
	Cosine     float64
	Image      float64
	Found      bool

	// CredentialErr is set when a credential could not be opened. That
	// profile scored 0.
	CredentialErr error
}

// Create inserts a profile row for a freshly enrolled identity.
func (s *ProfileService) Create(ctx context.Context, id, name string, role domain.Role) (domain.UserProfile, error) {
	if !role.Valid() {
		return domain.UserProfile{}, ErrInvalidRole
	}
	now := s.Clock.Now()
	p := domain.UserProfile{
		ID:          id,
		DisplayName: name,
		Role:        role,
		Active:      true,
		Guest:       role == domain.RoleGuest,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Store.Profiles().CreateProfile(ctx, p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}

// List returns every live profile with its learned references.
func (s *ProfileService) List(ctx context.Context) ([]domain.UserProfile, error) {
	profiles, err := s.Store.Profiles().ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		refs, err := s.Store.References().ListReferences(ctx, profiles[i].ID)
		if err != nil {
			return nil, err
		}
		profiles[i].References = refs
	}
	return profiles, nil
}

// Remove soft-deletes a profile and destroys its credential and images.
func (s *ProfileService) Remove(ctx context.Context, id string) error {
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.References().DeleteReferencesForProfile(ctx, id); err != nil {
			return err
		}
		return tx.Profiles().SoftDeleteProfile(ctx, id)
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrProfileMissing
	}
	if err != nil {
		return fmt.Errorf("failed to remove profile: %w", err)
	}

	if err := s.Credentials.Delete(id); err != nil {
		return err
	}
	s.Logger.Info("profile removed", "profile_id", id)
	return nil
}

// HasEnrollment reports whether at least one live profile has a credential.
func (s *ProfileService) HasEnrollment(ctx context.Context) (bool, error) {
	profiles, err := s.Store.Profiles().ListProfiles(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range profiles {
		if s.Credentials.Exists(p.ID) {
			return true, nil
		}
	}
	return false, nil
}

// NewProfileID returns a fresh profile identifier.
func (s *ProfileService) NewProfileID() string {
	return idx.NewAt(s.Clock.Now()).String()
}

// FindUserByFace identifies face among every live profile. This is a linear
// scan over users and their references.
func (s *ProfileService) FindUserByFace(ctx context.Context, face image.Image) (Match, error) {
	emb, err := s.Extractor.Extract(face)
	if err != nil {
		s.Logger.Debug("embedding extraction failed", "error", err)
	}
	return s.Match(ctx, face, emb)
}

// Match scores face and its embedding against every live profile and
// returns the best. With no enrolled profile the result is a zero
// similarity and ErrNoCredential.
func (s *ProfileService) Match(ctx context.Context, face image.Image, emb domain.Embedding) (Match, error) {
	profiles, err := s.Store.Profiles().ListProfiles(ctx)
	if err != nil {
		return Match{}, fmt.Errorf("failed to list profiles: %w", err)
	}

	var (
		best     Match
		enrolled int
	)
	for _, p := range profiles {
		if !p.Active {
			continue
		}

		cred, err := s.Credentials.Load(p.ID)
		if errors.Is(err, credential.ErrNotEnrolled) {
			continue
		}
		enrolled++
		if err != nil {
			// Fail closed: this profile cannot match
			s.Logger.Error("credential unreadable", "profile_id", p.ID, "error", err)
			if best.CredentialErr == nil {
				best.CredentialErr = err
			}
			continue
		}

		m := Match{Profile: p, Found: true}
		m.Cosine = math.Max(0, embed.Cosine(emb, cred.Embedding))

		if s.ImageCorroboration && face != nil {
			refs, err := s.Calibrator.References(ctx, p.ID)
			if err != nil {
				s.Logger.Warn("failed to load references", "profile_id", p.ID, "error", err)
			}
			m.Image = s.Scorer.CompareSet(face, refs).Score
		}
		m.Similarity = math.Max(m.Cosine, m.Image)

		if !best.Found || m.Similarity > best.Similarity {
			m.CredentialErr = best.CredentialErr
			best = m
		}
	}

	if enrolled == 0 {
		return Match{}, ErrNoCredential
	}
	return best, nil
}
