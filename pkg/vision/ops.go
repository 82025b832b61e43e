package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"path/filepath"

	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

const DefaultJPEGQuality = 90

// ToGray converts img to 8-bit grayscale anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// ToRGBA copies img into a new RGBA image anchored at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// Crop copies the part of img inside r. r is clipped to img's bounds.
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, r.Min, xdraw.Src)
	return dst
}

// Resize scales img to w x h with Catmull-Rom interpolation.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// ResizeGray scales img to w x h and converts it to grayscale.
func ResizeGray(img image.Image, w, h int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// Histogram returns a bins-bucket intensity histogram of g normalized to sum to 1.
func Histogram(g *image.Gray, bins int) []float64 {
	return RegionHistogram(g, g.Bounds(), bins)
}

// RegionHistogram is Histogram restricted to r.
func RegionHistogram(g *image.Gray, r image.Rectangle, bins int) []float64 {
	hist := make([]float64, bins)
	r = r.Intersect(g.Bounds())
	n := r.Dx() * r.Dy()
	if n == 0 || bins <= 0 {
		return hist
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := g.Pix[g.PixOffset(r.Min.X, y):g.PixOffset(r.Max.X, y)]
		for _, v := range row {
			hist[int(v)*bins/256]++
		}
	}
	for i := range hist {
		hist[i] /= float64(n)
	}
	return hist
}

// Mean intensity of g in [0,255].
func Mean(g *image.Gray) float64 {
	var sum float64
	n := 0
	eachPixel(g, func(v uint8) {
		sum += float64(v)
		n++
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// StdDev of the intensities of g.
func StdDev(g *image.Gray) float64 {
	mean := Mean(g)
	var acc float64
	n := 0
	eachPixel(g, func(v uint8) {
		d := float64(v) - mean
		acc += d * d
		n++
	})
	if n == 0 {
		return 0
	}
	return math.Sqrt(acc / float64(n))
}

// MeanAbsDiff returns the mean absolute pixel difference in [0,255].
// b is resampled to a's size when the dimensions differ.
func MeanAbsDiff(a, b *image.Gray) float64 {
	ab := a.Bounds()
	if ab.Empty() {
		return 0
	}
	if b.Bounds().Size() != ab.Size() {
		b = ResizeGray(b, ab.Dx(), ab.Dy())
	}
	bb := b.Bounds()

	var sum float64
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			va := a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y
			vb := b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y
			sum += math.Abs(float64(va) - float64(vb))
		}
	}
	return sum / float64(ab.Dx()*ab.Dy())
}

func eachPixel(g *image.Gray, fn func(v uint8)) {
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for _, v := range g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)] {
			fn(v)
		}
	}
}

// EncodeJPEG encodes img as a JPEG.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a JPEG or PNG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// DecodeFile reads a JPEG or PNG image from path.
func DecodeFile(path string) (image.Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
