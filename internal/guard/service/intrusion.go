package service

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/attemptlog"
	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/notify"
	"github.com/aussiebroadwan/faceguard/pkg/vision"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultSampleInterval  = time.Second
	DefaultMatchThreshold  = 0.6
	DefaultMotionThreshold = 0.05

	motionSampleSize   = 64
	intrusionQueueSize = 2
	artifactTimeLayout = "20060102T150405.000Z"
)

// IntrusionMonitor watches sampled frames for unknown faces next to known
// ones and for motion. It runs beside the coordinator and shares no state
// with it.
type IntrusionMonitor struct {
	Detector   FaceDetector
	Profiles   *ProfileService
	Attempts   *attemptlog.Log
	Dispatcher *notify.Dispatcher
	Clock      clockwork.Clock
	Logger     *slog.Logger

	// Dir receives intrusion snapshots (<data>/intrusions).
	Dir             string
	SampleInterval  time.Duration
	MatchThreshold  float64
	MotionThreshold float64

	mu         sync.Mutex
	lastSample time.Time
	prev       *image.Gray

	queue  chan sample
	stopCh chan struct{}
	doneCh chan struct{}
}

type sample struct {
	img image.Image
	at  time.Time
}

// IntrusionReport summarizes one analyzed frame.
type IntrusionReport struct {
	Faces     int
	Unknown   int
	Motion    float64
	Moving    bool
	Alerted   bool
	Artifacts []string
}

func NewIntrusionMonitor(
	detector FaceDetector,
	profiles *ProfileService,
	attempts *attemptlog.Log,
	dispatcher *notify.Dispatcher,
	dir string,
	clock clockwork.Clock,
	logger *slog.Logger,
) *IntrusionMonitor {
	return &IntrusionMonitor{
		Detector:        detector,
		Profiles:        profiles,
		Attempts:        attempts,
		Dispatcher:      dispatcher,
		Clock:           clock,
		Logger:          logger,
		Dir:             dir,
		SampleInterval:  DefaultSampleInterval,
		MatchThreshold:  DefaultMatchThreshold,
		MotionThreshold: DefaultMotionThreshold,
		queue:           make(chan sample, intrusionQueueSize),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Observe offers a frame for analysis. At most one frame per SampleInterval
// is taken; it is copied so the caller keeps ownership of frame. Observe
// never blocks: a full queue drops the sample.
func (m *IntrusionMonitor) Observe(frame *capture.Frame) {
	if frame == nil || frame.Image == nil {
		return
	}

	now := m.Clock.Now()
	m.mu.Lock()
	if !m.lastSample.IsZero() && now.Sub(m.lastSample) < m.SampleInterval {
		m.mu.Unlock()
		return
	}
	m.lastSample = now
	m.mu.Unlock()

	select {
	case m.queue <- sample{img: vision.ToRGBA(frame.Image), at: now}:
	default:
		m.Logger.Debug("intrusion sample dropped, analyzer busy")
	}
}

// Start runs the analyzer on a background goroutine until Stop.
func (m *IntrusionMonitor) Start(ctx context.Context) {
	go m.run(ctx)
	m.Logger.Info("intrusion monitor started", "interval", m.SampleInterval)
}

// Stop waits for an in-progress analysis to finish.
func (m *IntrusionMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
	m.Logger.Info("intrusion monitor stopped")
}

func (m *IntrusionMonitor) run(ctx context.Context) {
	defer close(m.doneCh)
	for {
		select {
		case s := <-m.queue:
			m.Analyze(ctx, s.img, s.at)
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Analyze checks one frame. Several faces with at least one unknown among
// them produce snapshots, an INTRUSION record and an alert. Motion alone is
// only logged.
func (m *IntrusionMonitor) Analyze(ctx context.Context, img image.Image, at time.Time) IntrusionReport {
	var r IntrusionReport
	if img == nil || img.Bounds().Empty() {
		return r
	}

	r.Motion, r.Moving = m.motion(img)
	if r.Moving {
		m.Logger.Info("motion detected", "amplitude", r.Motion)
	}

	faces := m.Detector.DetectAll(img)
	r.Faces = len(faces)
	if len(faces) < 2 {
		return r
	}

	var unknown []domain.FaceRegion
	for _, f := range faces {
		match, err := m.Profiles.FindUserByFace(ctx, f.Image)
		if err != nil || !match.Found || match.Similarity < m.MatchThreshold {
			unknown = append(unknown, f)
		}
	}
	r.Unknown = len(unknown)
	if len(unknown) == 0 {
		return r
	}

	details := fmt.Sprintf("%d faces detected, %d unrecognized", r.Faces, r.Unknown)
	frameJPEG, artifacts := m.persist(img, unknown, at)
	r.Artifacts = artifacts

	if _, err := m.Attempts.Record(ctx, domain.AttemptRecord{
		Kind:      domain.AttemptIntrusion,
		Details:   details,
		Artifacts: artifacts,
		At:        at,
	}); err != nil {
		m.Logger.Error("failed to record intrusion", "error", err)
	}

	m.Logger.Warn("intrusion detected", "faces", r.Faces, "unknown", r.Unknown)
	if frameJPEG != nil {
		r.Alerted = m.Dispatcher.Dispatch(notify.NewIntrusionAlert(at, frameJPEG, details))
	}
	return r
}

// ReportLockout stores the face that triggered a lockout together with the
// full frame and raises an alert. It returns the written artifact paths.
func (m *IntrusionMonitor) ReportLockout(face domain.FaceRegion, frame image.Image, at time.Time, details string) []string {
	var faces []domain.FaceRegion
	if face.Image != nil {
		faces = append(faces, face)
	}

	frameJPEG, artifacts := m.persist(frame, faces, at)

	alertImage := frameJPEG
	if face.Image != nil {
		if jpg, err := vision.EncodeJPEG(face.Image, vision.DefaultJPEGQuality); err == nil {
			alertImage = jpg
		}
	}
	if alertImage != nil {
		m.Dispatcher.Dispatch(notify.NewIntrusionAlert(at, alertImage, details))
	}
	return artifacts
}

// persist writes every face and the frame. Failures are logged; whatever
// could be written is returned.
func (m *IntrusionMonitor) persist(frame image.Image, faces []domain.FaceRegion, at time.Time) ([]byte, []string) {
	stamp := at.UTC().Format(artifactTimeLayout)

	var artifacts []string
	write := func(name string, img image.Image) []byte {
		jpg, err := vision.EncodeJPEG(img, vision.DefaultJPEGQuality)
		if err != nil {
			m.Logger.Error("failed to encode snapshot", "name", name, "error", err)
			return nil
		}
		path := filepath.Join(m.Dir, stamp+"_"+name+".jpg")
		if err := credential.WriteFileAtomic(path, jpg, 0o600); err != nil {
			m.Logger.Error("failed to write snapshot", "path", path, "error", err)
			return jpg
		}
		artifacts = append(artifacts, path)
		return jpg
	}

	for i, f := range faces {
		write(fmt.Sprintf("face-%d", i), f.Image)
	}

	var frameJPEG []byte
	if frame != nil && !frame.Bounds().Empty() {
		frameJPEG = write("frame", frame)
	}
	return frameJPEG, artifacts
}

func (m *IntrusionMonitor) motion(img image.Image) (float64, bool) {
	gray := vision.ResizeGray(img, motionSampleSize, motionSampleSize)

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.prev
	m.prev = gray
	if prev == nil {
		return 0, false
	}
	amp := vision.MeanAbsDiff(gray, prev) / 255
	return amp, amp > m.MotionThreshold
}

// EnsureDir creates the snapshot directory.
func (m *IntrusionMonitor) EnsureDir() error {
	return os.MkdirAll(m.Dir, 0o700)
}
