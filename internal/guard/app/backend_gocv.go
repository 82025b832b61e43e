//go:build gocv

package app

import (
	"errors"
	"fmt"
	"image"

	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/aussiebroadwan/faceguard/pkg/vision/cv"
)

// openBackend loads YuNet, the pigo cascade fallback and the embedding
// network. At least one detector must load.
func openBackend(cfg Config) (vision.Backend, error) {
	var b vision.Backend

	if cfg.DetectorModel != "" {
		yn, err := cv.NewYuNetDetector(cv.YuNetConfig{
			ModelPath:           cfg.DetectorModel,
			InputSize:           image.Pt(320, 320),
			ConfidenceThreshold: 0.6,
			NMSThreshold:        0.3,
			TopK:                5000,
		})
		if err != nil {
			return vision.Backend{}, err
		}
		b.Primary = yn
	}

	if cfg.CascadeFile != "" {
		cascade, err := vision.LoadPigoDetector(cfg.CascadeFile, vision.DefaultCascadeParams())
		if err != nil {
			_ = b.Close()
			return vision.Backend{}, fmt.Errorf("failed to load cascade: %w", err)
		}
		b.Cascade = cascade
	}

	if b.Primary == nil && b.Cascade == nil {
		return vision.Backend{}, errors.New("no face detector configured")
	}

	if cfg.EmbeddingModel != "" {
		net, err := cv.NewNetInferencer(cfg.EmbeddingModel, cfg.EmbeddingConfig)
		if err != nil {
			_ = b.Close()
			return vision.Backend{}, err
		}
		b.Inferencer = net
	}
	return b, nil
}

func openSource(cfg Config) (capture.Source, error) {
	if cfg.FrameDir != "" {
		return capture.OpenDir(cfg.FrameDir, true)
	}
	return capture.OpenCamera(cfg.CameraDevice)
}
