//go:build gocv

package cv

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// NetInferencer runs a face embedding network loaded with gocv.ReadNet.
type NetInferencer struct {
	mu  sync.Mutex
	net gocv.Net
}

func NewNetInferencer(modelPath, configPath string) (*NetInferencer, error) {
	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load embedding model %q", modelPath)
	}
	return &NetInferencer{net: net}, nil
}

func (n *NetInferencer) RunInference(pixels []float32, width, height int) ([]float32, error) {
	if len(pixels) != width*height {
		return nil, errors.New("pixel buffer does not match dimensions")
	}

	gray := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range pixels {
		gray.Pix[i] = uint8(min(max(v, 0), 1)*255 + 0.5)
	}

	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("failed to convert face: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(width, height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	n.mu.Lock()
	defer n.mu.Unlock()

	n.net.SetInput(blob, "")
	output := n.net.Forward("")
	defer output.Close()

	out := make([]float32, output.Total())
	for i := range out {
		out[i] = output.GetFloatAt(0, i)
	}
	return out, nil
}

func (n *NetInferencer) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.net.Close()
}
