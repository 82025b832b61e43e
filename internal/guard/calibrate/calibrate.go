// Package calibrate adapts acceptance thresholds to each user's history and
// grows their reference set from confident matches.
package calibrate

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/store"
	"github.com/aussiebroadwan/faceguard/pkg/idx"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultMaxReferences = 20
	DefaultLearnMin      = 0.75
	DefaultLearnFloor    = 0.65
)

// Threshold maps a rolling average confidence to an acceptance threshold.
// It is non-increasing in avg.
func Threshold(avg float64) float64 {
	switch {
	case avg > 0.85:
		return 0.55
	case avg > 0.75:
		return 0.60
	case avg > 0.65:
		return 0.65
	default:
		return 0.70
	}
}

// Confidence maps similarity onto [0,1] relative to threshold: scores at or
// above it land in [0.5,1], scores below in [0,0.5).
func Confidence(similarity, threshold float64) float64 {
	similarity = clamp01(similarity)
	if similarity >= threshold {
		if threshold >= 1 {
			return 1
		}
		return 0.5 + 0.5*(similarity-threshold)/(1-threshold)
	}
	return similarity * 0.5
}

// UpdateAverage folds v into a running mean over total previous samples.
func UpdateAverage(avg float64, total int, v float64) float64 {
	if total < 0 {
		total = 0
	}
	return (avg*float64(total) + v) / float64(total+1)
}

// Calibrator owns the per-profile statistics and learned reference images.
type Calibrator struct {
	Store         store.Store
	Credentials   *credential.Store
	Logger        *slog.Logger
	Clock         clockwork.Clock
	MaxReferences int
	LearnMin      float64
	LearnFloor    float64
}

func New(st store.Store, creds *credential.Store, logger *slog.Logger, clock clockwork.Clock) *Calibrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Calibrator{
		Store:         st,
		Credentials:   creds,
		Logger:        logger,
		Clock:         clock,
		MaxReferences: DefaultMaxReferences,
		LearnMin:      DefaultLearnMin,
		LearnFloor:    DefaultLearnFloor,
	}
}

// ThresholdFor returns the adaptive threshold of a profile.
func (c *Calibrator) ThresholdFor(ctx context.Context, profileID string) (float64, error) {
	p, err := c.Store.Profiles().GetProfileByID(ctx, profileID)
	if err != nil {
		return 0, err
	}
	return Threshold(p.AvgConfidence), nil
}

// Record counts one scored attempt against profileID and folds its
// confidence into the rolling average.
func (c *Calibrator) Record(ctx context.Context, profileID string, similarity float64, passed bool) (domain.UserProfile, error) {
	var updated domain.UserProfile
	err := c.Store.WithTx(ctx, func(tx store.Tx) error {
		p, err := tx.Profiles().GetProfileByID(ctx, profileID)
		if err != nil {
			return err
		}

		conf := Confidence(similarity, Threshold(p.AvgConfidence))
		p.AvgConfidence = UpdateAverage(p.AvgConfidence, p.Total(), conf)
		if passed {
			p.Successes++
		} else {
			p.Failures++
		}

		updated = p
		return tx.Profiles().UpdateStats(ctx, p.ID, p.Successes, p.Failures, p.AvgConfidence)
	})
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("failed to record attempt: %w", err)
	}
	return updated, nil
}

// ShouldLearn reports whether a similarity is confident enough to extend the
// reference set.
func (c *Calibrator) ShouldLearn(similarity float64) bool {
	return similarity >= c.LearnMin && similarity >= c.LearnFloor
}

// Learn stores face as a new reference of profileID when similarity is high
// enough, evicting the oldest references beyond MaxReferences. It reports
// whether the face was added.
func (c *Calibrator) Learn(ctx context.Context, profileID string, face image.Image, similarity float64) (bool, error) {
	if !c.ShouldLearn(similarity) || face == nil {
		return false, nil
	}

	jpg, err := vision.EncodeJPEG(face, vision.DefaultJPEGQuality)
	if err != nil {
		return false, err
	}

	now := c.Clock.Now()
	ref := domain.ReferenceImage{
		ID:        idx.NewAt(now).String(),
		ProfileID: profileID,
		CreatedAt: now,
	}
	ref.Path = filepath.Join(c.Credentials.ReferenceDir(profileID), ref.ID+".jpg")

	if err := credential.WriteFileAtomic(ref.Path, jpg, 0o600); err != nil {
		return false, fmt.Errorf("failed to write reference image: %w", err)
	}

	var evicted []domain.ReferenceImage
	err = c.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.References().AddReference(ctx, ref); err != nil {
			return err
		}
		refs, err := tx.References().ListReferences(ctx, profileID)
		if err != nil {
			return err
		}
		for len(refs) > c.MaxReferences {
			if err := tx.References().DeleteReference(ctx, refs[0].ID); err != nil {
				return err
			}
			evicted = append(evicted, refs[0])
			refs = refs[1:]
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(ref.Path)
		return false, fmt.Errorf("failed to add reference: %w", err)
	}

	for _, r := range evicted {
		if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.Logger.Warn("failed to remove evicted reference", "path", r.Path, "error", err)
		}
	}

	c.Logger.Info("reference image learned",
		"profile_id", profileID,
		"similarity", similarity,
		"evicted", len(evicted),
	)
	return true, nil
}

// References loads the enrolled reference followed by every learned one.
// Unreadable files are skipped.
func (c *Calibrator) References(ctx context.Context, profileID string) ([]image.Image, error) {
	var out []image.Image
	if img, err := c.Credentials.LoadReference(profileID); err == nil {
		out = append(out, img)
	} else if !errors.Is(err, credential.ErrNotEnrolled) {
		c.Logger.Warn("failed to load enrolled reference", "profile_id", profileID, "error", err)
	}

	refs, err := c.Store.References().ListReferences(ctx, profileID)
	if err != nil {
		return out, err
	}
	for _, r := range refs {
		img, err := vision.DecodeFile(r.Path)
		if err != nil {
			c.Logger.Warn("failed to load reference", "path", r.Path, "error", err)
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
