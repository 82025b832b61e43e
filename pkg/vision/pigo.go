package vision

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	pigo "github.com/esimov/pigo/core"
)

// CascadeParams tune the pigo pixel intensity comparison cascade.
type CascadeParams struct {
	MinSize          int
	MaxSize          int
	ShiftFactor      float64
	ScaleFactor      float64
	QualityThreshold float32
	IoUThreshold     float64
}

func DefaultCascadeParams() CascadeParams {
	return CascadeParams{
		MinSize:          60,
		MaxSize:          1000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		QualityThreshold: 5.0,
		IoUThreshold:     0.2,
	}
}

// PigoDetector is the classic cascade detector. It reports boxes only.
type PigoDetector struct {
	classifier *pigo.Pigo
	params     CascadeParams
}

// LoadPigoDetector reads and unpacks a pigo cascade file (e.g. "facefinder").
func LoadPigoDetector(path string, params CascadeParams) (*PigoDetector, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	return NewPigoDetector(data, params)
}

func NewPigoDetector(cascade []byte, params CascadeParams) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, params: params}, nil
}

func (d *PigoDetector) DetectFaces(img image.Image) ([]Detection, error) {
	gray := ToGray(img)
	b := gray.Bounds()
	if b.Empty() {
		return nil, nil
	}

	maxSize := d.params.MaxSize
	if side := min(b.Dx(), b.Dy()); maxSize > side {
		maxSize = side
	}

	dets := d.classifier.RunCascade(pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   b.Dy(),
			Cols:   b.Dx(),
			Dim:    gray.Stride,
		},
	}, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.params.IoUThreshold)

	origin := img.Bounds().Min
	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if det.Q < d.params.QualityThreshold {
			continue
		}
		half := det.Scale / 2
		box := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half).Add(origin)
		out = append(out, Detection{Box: box, Confidence: float64(det.Q)})
	}
	return out, nil
}

func (d *PigoDetector) Close() error { return nil }
