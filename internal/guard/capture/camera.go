//go:build gocv

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"gocv.io/x/gocv"
)

// Camera reads frames from a video device through OpenCV.
type Camera struct {
	Clock clockwork.Clock

	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

func OpenCamera(device int) (*Camera, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", device, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("camera %d is not available", device)
	}
	return &Camera{Clock: clockwork.NewRealClock(), cap: vc, mat: gocv.NewMat()}, nil
}

func (c *Camera) Read(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cap == nil {
		return nil, ErrClosed
	}
	if ok := c.cap.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, ErrNoFrame
	}

	// ToImage copies pixels out of the Mat, which is reused for the next read
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	return NewFrame(img, c.Clock.Now(), nil), nil
}

func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cap == nil {
		return nil
	}
	_ = c.mat.Close()
	err := c.cap.Close()
	c.cap = nil
	return err
}
