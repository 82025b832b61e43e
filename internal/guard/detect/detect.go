// Package detect resolves face regions in camera frames.
package detect

import (
	"image"
	"log/slog"
	"sort"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
)

const (
	DefaultMinConfidence = 0.5
	DefaultPadding       = 20
)

// Service finds faces with a primary deep detector and falls back to the
// cascade when the primary is absent, errors, or sees nothing.
type Service struct {
	Primary       vision.FaceDetector // optional
	Cascade       vision.FaceDetector
	MinConfidence float64
	Padding       int
	Logger        *slog.Logger
}

func NewService(backend vision.Backend, logger *slog.Logger) *Service {
	return &Service{
		Primary:       backend.Primary,
		Cascade:       backend.Cascade,
		MinConfidence: DefaultMinConfidence,
		Padding:       DefaultPadding,
		Logger:        logger,
	}
}

// Detect returns the largest face in img. It never panics or errors; a false
// result means "no face".
func (s *Service) Detect(img image.Image) (domain.FaceRegion, bool) {
	faces := s.DetectAll(img)
	if len(faces) == 0 {
		return domain.FaceRegion{}, false
	}
	return faces[0], true
}

// DetectAll returns every face in img, largest first.
func (s *Service) DetectAll(img image.Image) (faces []domain.FaceRegion) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("face detection panicked", "panic", r)
			faces = nil
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return nil
	}

	dets := s.detect(img)
	if len(dets) == 0 {
		return nil
	}

	sort.SliceStable(dets, func(i, j int) bool {
		return area(dets[i].Box) > area(dets[j].Box)
	})

	bounds := img.Bounds()
	faces = make([]domain.FaceRegion, 0, len(dets))
	for _, d := range dets {
		box := pad(d.Box, s.Padding, bounds)
		if box.Empty() {
			continue
		}
		faces = append(faces, domain.FaceRegion{
			Image:      vision.Crop(img, box),
			Box:        box,
			Landmarks:  d.Landmarks,
			Confidence: d.Confidence,
		})
	}
	return faces
}

func (s *Service) detect(img image.Image) []vision.Detection {
	if s.Primary != nil {
		dets, err := s.Primary.DetectFaces(img)
		if err != nil {
			s.Logger.Warn("primary detector failed, using cascade", "error", err)
		}
		dets = filterConfidence(dets, s.MinConfidence)
		if len(dets) > 0 {
			return dets
		}
	}

	if s.Cascade == nil {
		return nil
	}
	dets, err := s.Cascade.DetectFaces(img)
	if err != nil {
		s.Logger.Warn("cascade detector failed", "error", err)
		return nil
	}
	// Cascade boxes carry no landmarks and no calibrated confidence
	for i := range dets {
		dets[i].Landmarks = nil
	}
	return dets
}

func filterConfidence(dets []vision.Detection, minConf float64) []vision.Detection {
	out := dets[:0]
	for _, d := range dets {
		if d.Confidence >= minConf {
			out = append(out, d)
		}
	}
	return out
}

func pad(r image.Rectangle, n int, bounds image.Rectangle) image.Rectangle {
	return image.Rect(r.Min.X-n, r.Min.Y-n, r.Max.X+n, r.Max.Y+n).Intersect(bounds)
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}
