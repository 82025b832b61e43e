//go:build !gocv

package app

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
)

// openBackend loads the pigo cascade. Without OpenCV there is no deep
// detector and embeddings use the histogram descriptor.
func openBackend(cfg Config) (vision.Backend, error) {
	if cfg.CascadeFile == "" {
		return vision.Backend{}, errors.New("cascade_file is required without OpenCV support")
	}
	cascade, err := vision.LoadPigoDetector(cfg.CascadeFile, vision.DefaultCascadeParams())
	if err != nil {
		return vision.Backend{}, fmt.Errorf("failed to load cascade: %w", err)
	}
	return vision.Backend{Cascade: cascade}, nil
}

// openSource replays frame_dir; cameras need the gocv build.
func openSource(cfg Config) (capture.Source, error) {
	if cfg.FrameDir == "" {
		return nil, errors.New("frame_dir is required without OpenCV support")
	}
	return capture.OpenDir(cfg.FrameDir, true)
}
