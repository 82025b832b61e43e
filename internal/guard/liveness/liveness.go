// Package liveness rejects static presentations such as printed photos by
// looking for frame-to-frame movement or, failing that, surface texture.
package liveness

import (
	"image"
	"sync"

	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/emirpasic/gods/queues/circularbuffer"
)

const (
	HistorySize              = 5
	DefaultMovementThreshold = 0.02
	DefaultTextureThreshold  = 8.0

	sampleSize = 64
)

type Reason string

const (
	ReasonFirstFrame Reason = "first_frame"
	ReasonMovement   Reason = "movement"
	ReasonTexture    Reason = "texture"
	ReasonStatic     Reason = "static"
)

// Verdict explains a liveness decision.
type Verdict struct {
	Live     bool
	Reason   Reason
	Movement float64 // normalized mean absolute difference, [0,1]
	StdDev   float64 // only set when the texture check ran
}

// Detector keeps a short history of recent faces. It is safe for concurrent
// use, though the coordinator only calls it from its worker.
type Detector struct {
	MovementThreshold float64
	TextureThreshold  float64

	mu      sync.Mutex
	history *circularbuffer.Queue
}

func NewDetector() *Detector {
	return &Detector{
		MovementThreshold: DefaultMovementThreshold,
		TextureThreshold:  DefaultTextureThreshold,
		history:           circularbuffer.New(HistorySize),
	}
}

// Verify reports whether face looks live.
func (d *Detector) Verify(face image.Image) bool {
	return d.Check(face).Live
}

// Check runs the liveness heuristics on face and records it in the history.
func (d *Detector) Check(face image.Image) Verdict {
	if face == nil || face.Bounds().Empty() {
		return Verdict{Reason: ReasonStatic}
	}

	sample := vision.ResizeGray(face, sampleSize, sampleSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	// The buffer drops the oldest sample once full
	defer d.history.Enqueue(sample)

	if d.history.Empty() {
		return Verdict{Live: true, Reason: ReasonFirstFrame}
	}

	values := d.history.Values()
	last := values[len(values)-1].(*image.Gray)

	v := Verdict{Movement: vision.MeanAbsDiff(sample, last) / 255}
	if v.Movement > d.MovementThreshold {
		v.Live = true
		v.Reason = ReasonMovement
		return v
	}

	v.StdDev = vision.StdDev(vision.ToGray(face))
	if v.StdDev > d.TextureThreshold {
		v.Live = true
		v.Reason = ReasonTexture
		return v
	}

	v.Reason = ReasonStatic
	return v
}

// Len is the number of frames currently held.
func (d *Detector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.Size()
}

// Reset forgets the history so the next frame is treated as the first.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history.Clear()
}
