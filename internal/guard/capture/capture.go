// Package capture provides camera frames to the authentication loop and the
// side effects it triggers on the host.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"
)

var (
	ErrNoFrame = errors.New("capture: no frame available")
	ErrClosed  = errors.New("capture: source closed")
)

// Frame is one captured image. Close releases any native buffer behind it
// and must be called on every path; it is safe to call more than once.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time

	once    sync.Once
	release func()
}

func NewFrame(img image.Image, at time.Time, release func()) *Frame {
	return &Frame{Image: img, CapturedAt: at, release: release}
}

func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// Source yields frames. Read returns ErrNoFrame for a transient miss.
type Source interface {
	Read(ctx context.Context) (*Frame, error)
	Close() error
}

// Display renders the live frame and a status line. Rendering itself is
// outside this program; implementations may forward or drop frames.
type Display interface {
	Show(img image.Image, status string)
}

// NopDisplay drops every frame.
type NopDisplay struct{}

func (NopDisplay) Show(image.Image, string) {}
