// Package embed turns face crops into fixed-length descriptors and compares them.
package embed

import (
	"errors"
	"image"
	"log/slog"
	"math"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
)

const (
	// CanonicalSize is the side of the square face fed to either descriptor path.
	CanonicalSize = 112

	gridCells = 4
	gridBins  = domain.EmbeddingSize / (gridCells * gridCells)
)

var ErrExtractionFailed = errors.New("embed: extraction failed")

// Extractor produces L2-normalized embeddings. With an Inferencer it uses the
// network output; without one, or when inference fails, it uses a spatial
// histogram descriptor.
type Extractor struct {
	Inferencer vision.Inferencer
	Logger     *slog.Logger
}

func NewExtractor(inf vision.Inferencer, logger *slog.Logger) *Extractor {
	return &Extractor{Inferencer: inf, Logger: logger}
}

// Extract returns the embedding of face. On failure it returns the zero
// embedding together with ErrExtractionFailed.
func (e *Extractor) Extract(face image.Image) (domain.Embedding, error) {
	zero := make(domain.Embedding, domain.EmbeddingSize)
	if face == nil || face.Bounds().Empty() {
		return zero, ErrExtractionFailed
	}

	gray := vision.ResizeGray(face, CanonicalSize, CanonicalSize)

	var raw []float64
	if e.Inferencer != nil {
		out, err := e.Inferencer.RunInference(normalized(gray), CanonicalSize, CanonicalSize)
		if err != nil {
			e.Logger.Warn("inference failed, using histogram descriptor", "error", err)
		} else {
			raw = make([]float64, len(out))
			for i, v := range out {
				raw[i] = float64(v)
			}
		}
	}
	if raw == nil {
		raw = histogramDescriptor(gray)
	}

	emb := fit(raw, domain.EmbeddingSize)
	if !normalize(emb) {
		return zero, ErrExtractionFailed
	}
	return emb, nil
}

// normalized maps 8-bit intensities to [0,1].
func normalized(g *image.Gray) []float32 {
	b := g.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out = append(out, float32(g.GrayAt(x, y).Y)/255)
		}
	}
	return out
}

// histogramDescriptor concatenates per-cell intensity histograms over a
// gridCells x gridCells grid and centers the result on zero.
func histogramDescriptor(g *image.Gray) []float64 {
	b := g.Bounds()
	cw, ch := b.Dx()/gridCells, b.Dy()/gridCells

	out := make([]float64, 0, gridCells*gridCells*gridBins)
	for gy := 0; gy < gridCells; gy++ {
		for gx := 0; gx < gridCells; gx++ {
			cell := image.Rect(gx*cw, gy*ch, (gx+1)*cw, (gy+1)*ch).Add(b.Min)
			out = append(out, vision.RegionHistogram(g, cell, gridBins)...)
		}
	}

	var mean float64
	for _, v := range out {
		mean += v
	}
	mean /= float64(len(out))
	for i := range out {
		out[i] -= mean
	}
	return out
}

// fit pads with zeros or truncates v to n values.
func fit(v []float64, n int) domain.Embedding {
	out := make(domain.Embedding, n)
	copy(out, v)
	return out
}

// normalize scales v to unit length in place. It reports false for the zero
// vector or non-finite input.
func normalize(v []float64) bool {
	n := norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		for i := range v {
			v[i] = 0
		}
		return false
	}
	for i := range v {
		v[i] /= n
	}
	return true
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns dot(a,b)/(|a||b|). It is 0 when either norm is 0 or the
// lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot / (na * nb)
}
