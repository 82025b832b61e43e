package similarity_test

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/aussiebroadwan/faceguard/internal/guard/similarity"
	"github.com/stretchr/testify/require"
)

func filled(v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func gradient(offset int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			v := min(255, 20+x+y/2+offset)
			g.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return g
}

// pattern draws two shades in 4px cells; checker alternates in both axes,
// otherwise only rows alternate.
func pattern(lo, hi uint8, checker bool) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 80, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 80; x++ {
			cell := y / 4
			if checker {
				cell += x / 4
			}
			v := lo
			if cell%2 == 0 {
				v = hi
			}
			g.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return g
}

func noise(r *rand.Rand) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 64+r.Intn(64), 64+r.Intn(64)))
	for i := range g.Pix {
		g.Pix[i] = uint8(r.Intn(256))
	}
	return g
}

func TestCompareIdenticalImages(t *testing.T) {
	t.Parallel()

	s := similarity.NewScorer()
	r := s.Compare(gradient(0), gradient(0))

	require.InDelta(t, 1.0, r.Template, 1e-9)
	require.InDelta(t, 1.0, r.Histogram, 1e-9)
	require.InDelta(t, 1.0, r.Structural, 1e-9)
	require.InDelta(t, 1.0, r.Pixel, 1e-9)
	require.InDelta(t, 1.0, r.Fused, 1e-9)
}

func TestCompareSimilarImagesScoreHigh(t *testing.T) {
	t.Parallel()

	r := similarity.NewScorer().Compare(gradient(0), gradient(6))
	require.Greater(t, r.Fused, 0.75)
	require.Less(t, r.Fused, 1.0)
}

func TestCompareFusedScoreIsAlwaysInUnitRange(t *testing.T) {
	t.Parallel()

	s := similarity.NewScorer()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		r := s.Compare(noise(rng), noise(rng))
		for _, v := range []float64{r.Template, r.Histogram, r.Structural, r.Pixel, r.Fused} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestCompareRescuesSingleMetricWin(t *testing.T) {
	t.Parallel()

	// Black vs white: template, structural and pixel metrics are all 0, so the
	// strict cap drives the fused score to 0 and the histogram metric rescues it.
	r := similarity.NewScorer().Compare(filled(0), filled(255))

	require.Equal(t, 0.0, r.Template)
	require.InDelta(t, 0.0, r.Structural, 0.01)
	require.InDelta(t, 0.0, r.Pixel, 0.01)
	require.Greater(t, r.Histogram, 0.3)
	require.Equal(t, r.Histogram, r.Fused)
}

func TestCompareDegenerateInput(t *testing.T) {
	t.Parallel()

	s := similarity.NewScorer()
	require.Equal(t, similarity.Result{}, s.Compare(nil, gradient(0)))
	require.Equal(t, similarity.Result{}, s.Compare(gradient(0), image.NewGray(image.Rectangle{})))
}

func TestCompareSetKeepsBestMatch(t *testing.T) {
	t.Parallel()

	s := similarity.NewScorer()
	refs := []image.Image{filled(255), gradient(40), gradient(0)}

	res := s.CompareSet(gradient(0), refs)
	require.Equal(t, 2, res.BestIndex)
	require.InDelta(t, 1.0, res.Score, 1e-9)
	require.InDelta(t, 1.0, res.BestTemplate, 1e-9)
}

func TestCompareSetCapsWhenNoTemplateMatch(t *testing.T) {
	t.Parallel()

	s := similarity.NewScorer()

	// The single-image score is rescued by the histogram, but over the set the
	// best template is 0 so the final score is capped at 0.
	single := s.Compare(filled(0), filled(255))
	require.Greater(t, single.Fused, 0.3)

	res := s.CompareSet(filled(0), []image.Image{filled(255)})
	require.Equal(t, 0, res.BestIndex)
	require.Equal(t, 0.0, res.BestTemplate)
	require.Equal(t, 0.0, res.Score)
}

func TestTemplateIgnoresSharedBrightness(t *testing.T) {
	t.Parallel()

	s := similarity.NewScorer()
	enrolled := pattern(100, 155, true)
	stranger := pattern(100, 155, false)

	// Same shades and mean brightness, different structure.
	r := s.Compare(stranger, enrolled)
	require.InDelta(t, 1.0, r.Structural, 0.01)
	require.Less(t, r.Template, 0.1)

	res := s.CompareSet(stranger, []image.Image{enrolled})
	require.Less(t, res.BestTemplate, 0.1)
	require.Less(t, res.Score, 0.1)

	same := s.CompareSet(pattern(100, 155, true), []image.Image{enrolled})
	require.InDelta(t, 1.0, same.Score, 1e-6)
}

func TestCompareSetEmpty(t *testing.T) {
	t.Parallel()

	res := similarity.NewScorer().CompareSet(gradient(0), nil)
	require.Equal(t, -1, res.BestIndex)
	require.Equal(t, 0.0, res.Score)
}
