package embed_test

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/embed"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int, invert bool) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y) * 255 / (w + h))
			if invert {
				v = 255 - v
			}
			g.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return g
}

func unitLength(t *testing.T, e domain.Embedding) {
	t.Helper()
	var sum float64
	for _, v := range e {
		sum += v * v
	}
	require.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
}

type stubInferencer struct {
	out []float32
	err error
}

func (s stubInferencer) RunInference(pixels []float32, w, h int) ([]float32, error) {
	if len(pixels) != w*h {
		return nil, errors.New("bad input")
	}
	return s.out, s.err
}

func (stubInferencer) Close() error { return nil }

func TestCosineProperties(t *testing.T) {
	t.Parallel()

	a := []float64{1, 2, 3, 4}
	b := []float64{-2, 0.5, 7, 1}

	require.InDelta(t, 1.0, embed.Cosine(a, a), 1e-12)
	require.Equal(t, embed.Cosine(a, b), embed.Cosine(b, a))
	require.InDelta(t, 0.0, embed.Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
}

func TestCosineDegenerateInputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float64
	}{
		{"zero vector", []float64{0, 0, 0}, []float64{1, 2, 3}},
		{"dimension mismatch", []float64{1, 2}, []float64{1, 2, 3}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, 0.0, embed.Cosine(tt.a, tt.b))
		})
	}
}

func TestExtractHistogramDescriptor(t *testing.T) {
	t.Parallel()

	ex := embed.NewExtractor(nil, slogx.Discard())

	e1, err := ex.Extract(gradient(160, 160, false))
	require.NoError(t, err)
	require.Len(t, e1, domain.EmbeddingSize)
	unitLength(t, e1)

	again, err := ex.Extract(gradient(160, 160, false))
	require.NoError(t, err)
	require.InDelta(t, 1.0, embed.Cosine(e1, again), 1e-9)

	other, err := ex.Extract(gradient(160, 160, true))
	require.NoError(t, err)
	require.Less(t, embed.Cosine(e1, other), 0.9)
}

func TestExtractUsesInferencer(t *testing.T) {
	t.Parallel()

	ex := embed.NewExtractor(stubInferencer{out: []float32{3, 4}}, slogx.Discard())

	e, err := ex.Extract(gradient(80, 80, false))
	require.NoError(t, err)
	require.Len(t, e, domain.EmbeddingSize)
	require.InDelta(t, 0.6, e[0], 1e-9)
	require.InDelta(t, 0.8, e[1], 1e-9)
	unitLength(t, e)
}

func TestExtractFallsBackWhenInferenceFails(t *testing.T) {
	t.Parallel()

	withNet := embed.NewExtractor(stubInferencer{err: errors.New("net down")}, slogx.Discard())
	plain := embed.NewExtractor(nil, slogx.Discard())

	a, err := withNet.Extract(gradient(100, 100, false))
	require.NoError(t, err)
	b, err := plain.Extract(gradient(100, 100, false))
	require.NoError(t, err)
	require.InDelta(t, 1.0, embed.Cosine(a, b), 1e-9)
}

func TestExtractFailureYieldsZeroEmbedding(t *testing.T) {
	t.Parallel()

	ex := embed.NewExtractor(stubInferencer{out: make([]float32, 128)}, slogx.Discard())

	e, err := ex.Extract(gradient(50, 50, false))
	require.ErrorIs(t, err, embed.ErrExtractionFailed)
	require.True(t, e.IsZero())

	e, err = embed.NewExtractor(nil, slogx.Discard()).Extract(nil)
	require.ErrorIs(t, err, embed.ErrExtractionFailed)
	require.Len(t, e, domain.EmbeddingSize)
}
