package domain

import "image"

// EmbeddingSize is the fixed length of every Embedding.
const EmbeddingSize = 128

// FaceRegion is a face cropped out of a frame. Pixels are owned by the region,
// not shared with the frame it came from.
type FaceRegion struct {
	Image      *image.RGBA
	Box        image.Rectangle // padded box in frame coordinates
	Landmarks  []image.Point   // eyes, nose, mouth corners; empty for cascade detections
	Confidence float64
}

// Area of the padded box.
func (f FaceRegion) Area() int {
	return f.Box.Dx() * f.Box.Dy()
}

// Embedding is an L2-normalized face descriptor of length EmbeddingSize.
// The zero vector signals extraction failure.
type Embedding []float64

// IsZero reports whether e carries no information.
func (e Embedding) IsZero() bool {
	for _, v := range e {
		if v != 0 {
			return false
		}
	}
	return true
}
