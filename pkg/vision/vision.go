// Package vision defines the image capabilities the face pipeline needs and
// provides a pure Go implementation of them.
//
// Deep detection and neural inference are optional capabilities; the OpenCV
// backed versions live in the cv subpackage behind the "gocv" build tag.
package vision

import (
	"errors"
	"image"
)

var ErrNoFace = errors.New("vision: no face detected")

// Detection is a face found by a detector, in source image coordinates.
type Detection struct {
	Box        image.Rectangle
	Landmarks  []image.Point // 5 points or none
	Confidence float64
}

// FaceDetector locates faces in an image.
type FaceDetector interface {
	DetectFaces(img image.Image) ([]Detection, error)
	Close() error
}

// Inferencer runs a face embedding network. Input is a grayscale image with
// values in [0,1], row major, of the size reported by InputSize.
type Inferencer interface {
	RunInference(pixels []float32, width, height int) ([]float32, error)
	Close() error
}

// Backend bundles the capabilities available at runtime. Primary and
// Inferencer may be nil. At least one of Primary and Cascade is set.
type Backend struct {
	Primary    FaceDetector
	Cascade    FaceDetector
	Inferencer Inferencer
}

// Close releases every non-nil capability.
func (b Backend) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{b.Primary, b.Cascade, b.Inferencer} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
