// Package similarity scores how alike two face images are by fusing several
// pixel-level metrics.
package similarity

import (
	"bytes"
	"image"
	"math"

	"github.com/aussiebroadwan/faceguard/pkg/vision"
)

const (
	compareSize = 100
	histBins    = 256

	weightTemplate   = 0.40
	weightHistogram  = 0.30
	weightStructural = 0.20
	weightPixel      = 0.10

	strictTemplateFloor = 0.4
	strictTemplateCap   = 0.8
	rescueFloor         = 0.3
	setTemplateFloor    = 0.5
	setTemplateCap      = 0.95
)

// Result holds the individual metrics and their fused score, all in [0,1].
type Result struct {
	Template   float64
	Histogram  float64
	Structural float64
	Pixel      float64
	Fused      float64
}

// SetResult is the outcome of comparing a probe against a reference set.
type SetResult struct {
	Score        float64
	BestTemplate float64
	BestIndex    int // -1 for an empty set
}

type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

// Compare scores a against b.
func (s *Scorer) Compare(a, b image.Image) Result {
	if a == nil || b == nil || a.Bounds().Empty() || b.Bounds().Empty() {
		return Result{}
	}
	return compareGray(prepare(a), prepare(b))
}

// CompareSet scores probe against every reference and keeps the best.
func (s *Scorer) CompareSet(probe image.Image, refs []image.Image) SetResult {
	res := SetResult{BestIndex: -1}
	if probe == nil || probe.Bounds().Empty() || len(refs) == 0 {
		return res
	}

	p := prepare(probe)
	for i, ref := range refs {
		if ref == nil || ref.Bounds().Empty() {
			continue
		}
		r := compareGray(p, prepare(ref))
		if res.BestIndex < 0 || r.Fused > res.Score {
			res.Score = r.Fused
			res.BestIndex = i
		}
		res.BestTemplate = math.Max(res.BestTemplate, r.Template)
	}

	if res.BestIndex >= 0 && res.BestTemplate < setTemplateFloor {
		res.Score = math.Min(res.Score, res.BestTemplate*setTemplateCap)
	}
	return res
}

func prepare(img image.Image) *image.Gray {
	return vision.ResizeGray(img, compareSize, compareSize)
}

func compareGray(a, b *image.Gray) Result {
	r := Result{
		Template:   templateScore(a, b),
		Histogram:  (histogramCorrelation(a, b) + 1) / 2,
		Structural: 1 - math.Abs(vision.Mean(a)-vision.Mean(b))/255,
		Pixel:      1 - vision.MeanAbsDiff(a, b)/255,
	}

	fused := weightTemplate*r.Template +
		weightHistogram*r.Histogram +
		weightStructural*r.Structural +
		weightPixel*r.Pixel

	if r.Template < strictTemplateFloor {
		fused = math.Min(fused, r.Template*strictTemplateCap)
	}
	if fused < rescueFloor {
		best := max(r.Template, r.Histogram, r.Structural, r.Pixel)
		if best > rescueFloor {
			fused = best
		}
	}

	r.Fused = clamp01(fused)
	return r
}

// templateScore is the mean-centred normalized cross-correlation of a and b,
// negative correlation clamped to 0. Brightness alone does not score.
func templateScore(a, b *image.Gray) float64 {
	n := float64(len(a.Pix))
	ma, mb := vision.Mean(a), vision.Mean(b)

	var num, da, db float64
	for i := range a.Pix {
		x, y := float64(a.Pix[i])-ma, float64(b.Pix[i])-mb
		num += x * y
		da += x * x
		db += y * y
	}

	// Flat images carry no structure to correlate.
	if da/n < 1e-9 || db/n < 1e-9 {
		if bytes.Equal(a.Pix, b.Pix) {
			return 1
		}
		return 0
	}
	return clamp01(num / math.Sqrt(da*db))
}

// histogramCorrelation is the Pearson correlation of the intensity
// histograms, in [-1,1].
func histogramCorrelation(a, b *image.Gray) float64 {
	ha, hb := vision.Histogram(a, histBins), vision.Histogram(b, histBins)

	var ma, mb float64
	for i := range ha {
		ma += ha[i]
		mb += hb[i]
	}
	ma /= histBins
	mb /= histBins

	var num, da, db float64
	for i := range ha {
		x, y := ha[i]-ma, hb[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	if da == 0 || db == 0 {
		if da == db {
			return 1
		}
		return 0
	}
	return math.Max(-1, math.Min(1, num/math.Sqrt(da*db)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
