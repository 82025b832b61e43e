package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/embed"
	"github.com/jonboulle/clockwork"
)

var ErrNoFaceCaptured = errors.New("no usable face captured")

const (
	DefaultRegisterMaxFrames     = 50
	DefaultRegisterFrameInterval = 100 * time.Millisecond
)

// RegistrationService enrolls a new identity: capture, detect, extract,
// seal and store. It runs to completion before authentication starts.
type RegistrationService struct {
	Source      capture.Source
	Detector    FaceDetector
	Extractor   *embed.Extractor
	Profiles    *ProfileService
	Credentials *credential.Store
	Clock       clockwork.Clock
	Logger      *slog.Logger

	MaxFrames     int
	FrameInterval time.Duration
}

// Register captures frames until one yields a face and an embedding, then
// enrolls it under name. The first profile becomes admin.
func (s *RegistrationService) Register(ctx context.Context, name string) (domain.UserProfile, error) {
	maxFrames := s.MaxFrames
	if maxFrames <= 0 {
		maxFrames = DefaultRegisterMaxFrames
	}

	for i := 0; i < maxFrames; i++ {
		if i > 0 && s.FrameInterval > 0 {
			select {
			case <-ctx.Done():
				return domain.UserProfile{}, ctx.Err()
			case <-s.Clock.After(s.FrameInterval):
			}
		}

		p, ok, err := s.tryFrame(ctx, name)
		if err != nil {
			return domain.UserProfile{}, err
		}
		if ok {
			return p, nil
		}
	}
	return domain.UserProfile{}, ErrNoFaceCaptured
}

// tryFrame enrolls from a single frame. ok is false when the frame held no
// usable face.
func (s *RegistrationService) tryFrame(ctx context.Context, name string) (domain.UserProfile, bool, error) {
	frame, err := s.Source.Read(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.UserProfile{}, false, ctxErr
		}
		if errors.Is(err, capture.ErrClosed) {
			return domain.UserProfile{}, false, err
		}
		s.Logger.Warn("registration capture failed", "error", err)
		return domain.UserProfile{}, false, nil
	}
	defer frame.Close()

	face, ok := s.Detector.Detect(frame.Image)
	if !ok {
		return domain.UserProfile{}, false, nil
	}

	emb, err := s.Extractor.Extract(face.Image)
	if err != nil {
		s.Logger.Debug("registration extraction failed", "error", err)
		return domain.UserProfile{}, false, nil
	}

	role := domain.RoleStandard
	if n, err := s.Profiles.Store.Profiles().CountProfiles(ctx); err == nil && n == 0 {
		role = domain.RoleAdmin
	}

	id := s.Profiles.NewProfileID()
	if err := s.Credentials.Save(id, emb, face.Image, s.Clock.Now()); err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("failed to store credential: %w", err)
	}

	p, err := s.Profiles.Create(ctx, id, name, role)
	if err != nil {
		_ = s.Credentials.Delete(id)
		return domain.UserProfile{}, false, err
	}

	s.Logger.Info("profile enrolled",
		"profile_id", p.ID,
		"name", p.DisplayName,
		"role", p.Role,
		"detector_confidence", face.Confidence,
	)
	return p, true, nil
}

// Reset removes enrolled identities before re-registration. With all set
// every profile is removed, otherwise only live profiles named name.
func (s *RegistrationService) Reset(ctx context.Context, name string, all bool) (int, error) {
	profiles, err := s.Profiles.Store.Profiles().ListProfiles(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range profiles {
		if !all && p.DisplayName != name {
			continue
		}
		if err := s.Profiles.Remove(ctx, p.ID); err != nil && !errors.Is(err, ErrProfileMissing) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
