//go:build gocv

// Package cv binds the vision capabilities to OpenCV through gocv. Build with
// -tags gocv and an OpenCV 4.x installation.
package cv

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"gocv.io/x/gocv"
)

type YuNetConfig struct {
	ModelPath           string
	InputSize           image.Point
	ConfidenceThreshold float32
	NMSThreshold        float32
	TopK                int
}

// YuNetDetector is the deep face detector. It reports 5 landmarks per face.
type YuNetDetector struct {
	mu       sync.Mutex
	detector gocv.FaceDetectorYN
}

func NewYuNetDetector(cfg YuNetConfig) (*YuNetDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("yunet model: %w", err)
	}
	if cfg.InputSize == (image.Point{}) {
		cfg.InputSize = image.Pt(320, 320)
	}

	detector := gocv.NewFaceDetectorYN(cfg.ModelPath, "", cfg.InputSize)
	detector.SetScoreThreshold(cfg.ConfidenceThreshold)
	detector.SetNMSThreshold(cfg.NMSThreshold)
	detector.SetTopK(cfg.TopK)

	return &YuNetDetector{detector: detector}, nil
}

func (d *YuNetDetector) DetectFaces(img image.Image) ([]vision.Detection, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer mat.Close()

	faces := gocv.NewMat()
	defer faces.Close()

	d.mu.Lock()
	d.detector.SetInputSize(image.Pt(mat.Cols(), mat.Rows()))
	d.detector.Detect(mat, &faces)
	d.mu.Unlock()

	origin := img.Bounds().Min
	bounds := image.Rect(0, 0, mat.Cols(), mat.Rows())

	// Each row: x, y, w, h, 5 landmark (x,y) pairs, score
	out := make([]vision.Detection, 0, faces.Rows())
	for i := 0; i < faces.Rows(); i++ {
		x := int(faces.GetFloatAt(i, 0))
		y := int(faces.GetFloatAt(i, 1))
		w := int(faces.GetFloatAt(i, 2))
		h := int(faces.GetFloatAt(i, 3))

		box := image.Rect(x, y, x+w, y+h).Intersect(bounds)
		if box.Empty() {
			continue
		}

		landmarks := make([]image.Point, 0, 5)
		for k := 0; k < 5; k++ {
			landmarks = append(landmarks, image.Pt(
				int(faces.GetFloatAt(i, 4+2*k)),
				int(faces.GetFloatAt(i, 5+2*k)),
			).Add(origin))
		}

		out = append(out, vision.Detection{
			Box:        box.Add(origin),
			Landmarks:  landmarks,
			Confidence: float64(faces.GetFloatAt(i, 14)),
		})
	}
	return out, nil
}

func (d *YuNetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detector.Close()
}
