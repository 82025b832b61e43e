package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/attemptlog"
	"github.com/aussiebroadwan/faceguard/internal/guard/calibrate"
	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/embed"
	"github.com/aussiebroadwan/faceguard/internal/guard/liveness"
	"github.com/jonboulle/clockwork"
)

// FaceDetector finds faces in a frame. *detect.Service satisfies it.
type FaceDetector interface {
	Detect(img image.Image) (domain.FaceRegion, bool)
	DetectAll(img image.Image) []domain.FaceRegion
}

// CoordinatorConfig holds the authentication policy.
type CoordinatorConfig struct {
	Threshold         float64
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	Cooldown          time.Duration
	TickInterval      time.Duration
	LivenessEnabled   bool
	AdaptiveThreshold bool
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Threshold:         0.75,
		MaxFailedAttempts: 15,
		LockoutDuration:   5 * time.Minute,
		Cooldown:          2 * time.Second,
		TickInterval:      200 * time.Millisecond,
		LivenessEnabled:   true,
	}
}

// TickResult says what a single tick did with its frame.
type TickResult int

const (
	TickSkipped TickResult = iota
	TickDone
	TickLocked
	TickCooldown
	TickBusy
	TickDispatched
)

// Outcome describes one processed frame.
type Outcome struct {
	State      domain.SessionState
	FaceFound  bool
	Live       bool
	Scored     bool
	Similarity float64
	Threshold  float64
	ProfileID  string
	Failures   int
	LockedOut  bool
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State           string        `json:"state"`
	Message         string        `json:"message"`
	Failures        int           `json:"failures"`
	MaxAttempts     int           `json:"maxAttempts"`
	LockRemaining   time.Duration `json:"-"`
	LockRemainingMs int64         `json:"lockRemainingMs"`
	LastSimilarity  float64       `json:"lastSimilarity"`
	LastProfileID   string        `json:"lastProfileId,omitempty"`
	LastAttemptAt   *time.Time    `json:"lastAttemptAt,omitempty"`
	LastError       string        `json:"lastError,omitempty"`
}

// Coordinator runs the capture/score loop. The tick goroutine only reads
// state; every mutation happens on the single scoring worker.
type Coordinator struct {
	Source     capture.Source
	Display    capture.Display
	Detector   FaceDetector
	Liveness   *liveness.Detector
	Extractor  *embed.Extractor
	Profiles   *ProfileService
	Calibrator *calibrate.Calibrator
	Attempts   *attemptlog.Log
	Intrusion  *IntrusionMonitor
	Locker     capture.Locker
	Clock      clockwork.Clock
	Logger     *slog.Logger

	cfg CoordinatorConfig

	mu             sync.Mutex
	state          domain.SessionState
	lockout        domain.LockoutState
	lastAttempt    time.Time
	lastSimilarity float64
	lastProfileID  string
	lastError      string

	inFlight atomic.Bool
	work     chan *capture.Frame
	done     chan struct{}
	doneOnce sync.Once
}

func NewCoordinator(cfg CoordinatorConfig, clock clockwork.Clock, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Display: capture.NopDisplay{},
		Locker:  capture.CommandLocker{},
		Clock:   clock,
		Logger:  logger,
		cfg:     cfg,
		state:   domain.StateIdle,
		lockout: domain.LockoutState{
			MaxAttempts: cfg.MaxFailedAttempts,
			Duration:    cfg.LockoutDuration,
		},
		work: make(chan *capture.Frame, 1),
		done: make(chan struct{}),
	}
}

// Config returns the active policy.
func (c *Coordinator) Config() CoordinatorConfig { return c.cfg }

// Done is closed once the owner has authenticated.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Run drives ticks until the owner authenticates (nil) or ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.StateIdle {
		c.state = domain.StateAwaitingFace
	}
	c.mu.Unlock()

	workCtx, cancel := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		c.worker(workCtx)
	}()
	defer func() {
		cancel()
		<-workerDone
	}()

	ticker := c.Clock.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.Logger.Info("authentication loop started",
		"threshold", c.cfg.Threshold,
		"max_failed_attempts", c.cfg.MaxFailedAttempts,
		"lockout", c.cfg.LockoutDuration,
		"liveness", c.cfg.LivenessEnabled,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ticker.Chan():
			c.Tick(ctx)
		}
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case f := <-c.work:
				f.Close()
				c.inFlight.Store(false)
			default:
			}
			return
		case f := <-c.work:
			c.handle(ctx, f)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, f *capture.Frame) Outcome {
	defer c.inFlight.Store(false)
	return c.Process(ctx, f)
}

// processPending runs a queued frame on the calling goroutine.
func (c *Coordinator) processPending(ctx context.Context) (Outcome, bool) {
	select {
	case f := <-c.work:
		return c.handle(ctx, f), true
	default:
		return Outcome{}, false
	}
}

// Tick acquires one frame, shows it and hands it to the worker when an
// attempt is allowed.
func (c *Coordinator) Tick(ctx context.Context) TickResult {
	frame, err := c.Source.Read(ctx)
	if err != nil {
		if !errors.Is(err, capture.ErrNoFrame) {
			c.Logger.Warn("frame capture failed", "error", err)
		}
		return TickSkipped
	}

	now := c.Clock.Now()
	c.mu.Lock()
	state := c.state
	lockout := c.lockout
	lastAttempt := c.lastAttempt
	c.mu.Unlock()

	if state == domain.StateSucceeded {
		c.show(frame, "authenticated")
		return TickDone
	}

	if c.Intrusion != nil {
		c.Intrusion.Observe(frame)
	}

	if lockout.Locked(now) {
		c.show(frame, lockMessage(lockout.Remaining(now)))
		return TickLocked
	}

	if !lastAttempt.IsZero() && now.Sub(lastAttempt) < c.cfg.Cooldown {
		c.show(frame, "please wait")
		return TickCooldown
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		c.show(frame, "authenticating")
		return TickBusy
	}

	c.Display.Show(frame.Image, message(state))
	select {
	case c.work <- frame:
		return TickDispatched
	default:
		c.inFlight.Store(false)
		frame.Close()
		return TickBusy
	}
}

func (c *Coordinator) show(frame *capture.Frame, status string) {
	defer frame.Close()
	c.Display.Show(frame.Image, status)
}

// Process scores one frame and applies the result. frame is released before
// Process returns.
func (c *Coordinator) Process(ctx context.Context, frame *capture.Frame) Outcome {
	defer frame.Close()

	now := c.Clock.Now()
	c.expireLockout(now)

	c.mu.Lock()
	state := c.state
	locked := c.lockout.Locked(now)
	c.mu.Unlock()
	if state == domain.StateSucceeded || locked {
		return c.outcome(Outcome{})
	}

	face, ok := c.Detector.Detect(frame.Image)
	if !ok {
		c.setState(domain.StateAwaitingFace)
		return c.outcome(Outcome{})
	}

	out := Outcome{FaceFound: true, Live: true}
	if c.cfg.LivenessEnabled && c.Liveness != nil {
		v := c.Liveness.Check(face.Image)
		if !v.Live {
			c.Logger.Info("liveness check failed", "reason", v.Reason, "movement", v.Movement, "stddev", v.StdDev)
			c.setState(domain.StateAwaitingFace)
			out.Live = false
			return c.outcome(out)
		}
	}

	c.mu.Lock()
	c.state = domain.StateAuthenticating
	c.lastAttempt = now
	c.mu.Unlock()

	match, errText := c.score(ctx, face)

	out.Scored = true
	out.Similarity = match.Similarity
	out.ProfileID = match.Profile.ID
	out.Threshold = c.threshold(match)

	passed := match.Found && match.Similarity >= out.Threshold

	c.mu.Lock()
	c.lastSimilarity = match.Similarity
	c.lastProfileID = match.Profile.ID
	c.lastError = errText
	c.mu.Unlock()

	if match.Found {
		if _, err := c.Calibrator.Record(ctx, match.Profile.ID, match.Similarity, passed); err != nil {
			c.Logger.Error("failed to update calibration", "profile_id", match.Profile.ID, "error", err)
		}
	}

	if passed {
		c.succeed(ctx, face, match, now)
	} else {
		out.LockedOut = c.fail(ctx, face, frame.Image, match, now)
	}
	return c.outcome(out)
}

// score matches the face against every enrolled profile. Security-critical
// failures yield similarity 0 and an error message for the status view.
func (c *Coordinator) score(ctx context.Context, face domain.FaceRegion) (Match, string) {
	emb, err := c.Extractor.Extract(face.Image)
	if err != nil {
		c.Logger.Debug("embedding extraction failed", "error", err)
	}

	match, err := c.Profiles.Match(ctx, face.Image, emb)
	switch {
	case errors.Is(err, ErrNoCredential):
		c.Logger.Error("authentication attempted without an enrolled credential")
		return Match{}, "no enrolled credential"
	case err != nil:
		c.Logger.Error("failed to match face", "error", err)
		return Match{}, err.Error()
	}

	if match.CredentialErr != nil {
		c.Logger.Error("credential could not be used", "error", match.CredentialErr)
		return match, match.CredentialErr.Error()
	}
	return match, ""
}

func (c *Coordinator) threshold(m Match) float64 {
	if c.cfg.AdaptiveThreshold && m.Found {
		return calibrate.Threshold(m.Profile.AvgConfidence)
	}
	return c.cfg.Threshold
}

func (c *Coordinator) succeed(ctx context.Context, face domain.FaceRegion, m Match, now time.Time) {
	c.mu.Lock()
	c.lockout.Failures = 0
	c.state = domain.StateSucceeded
	c.mu.Unlock()

	c.record(ctx, domain.AttemptRecord{
		Kind:       domain.AttemptSuccess,
		ProfileID:  m.Profile.ID,
		Similarity: m.Similarity,
		At:         now,
	})
	c.Logger.Info("owner authenticated", "profile_id", m.Profile.ID, "similarity", m.Similarity)

	if learned, err := c.Calibrator.Learn(ctx, m.Profile.ID, face.Image, m.Similarity); err != nil {
		c.Logger.Error("failed to learn reference", "profile_id", m.Profile.ID, "error", err)
	} else if learned {
		c.Logger.Debug("reference learned", "profile_id", m.Profile.ID)
	}

	c.doneOnce.Do(func() { close(c.done) })
}

// fail counts a rejected attempt and escalates to a lockout once the limit
// is reached. It reports whether a lockout was entered.
func (c *Coordinator) fail(ctx context.Context, face domain.FaceRegion, frame image.Image, m Match, now time.Time) bool {
	c.mu.Lock()
	c.lockout.Failures++
	failures := c.lockout.Failures
	c.state = domain.StateAwaitingFace
	c.mu.Unlock()

	c.record(ctx, domain.AttemptRecord{
		Kind:         domain.AttemptFailure,
		ProfileID:    m.Profile.ID,
		Similarity:   m.Similarity,
		FailureCount: failures,
		At:           now,
	})
	c.Logger.Info("authentication failed",
		"similarity", m.Similarity,
		"failures", failures,
		"max_failed_attempts", c.cfg.MaxFailedAttempts,
	)

	if failures < c.cfg.MaxFailedAttempts {
		return false
	}

	details := fmt.Sprintf("%d consecutive failed attempts, locked for %s", failures, c.cfg.LockoutDuration)
	var artifacts []string
	if c.Intrusion != nil {
		artifacts = c.Intrusion.ReportLockout(face, frame, now, details)
	}

	if err := c.Locker.Lock(ctx); err != nil {
		c.Logger.Error("failed to lock session", "error", err)
	}

	c.mu.Lock()
	c.lockout.Failures = 0
	c.lockout.LockedAt = now
	c.state = domain.StateLocked
	c.mu.Unlock()

	c.record(ctx, domain.AttemptRecord{
		Kind:         domain.AttemptLockout,
		ProfileID:    m.Profile.ID,
		Similarity:   m.Similarity,
		FailureCount: failures,
		Details:      details,
		Artifacts:    artifacts,
		At:           now,
	})
	c.Logger.Warn("lockout entered", "failures", failures, "duration", c.cfg.LockoutDuration)
	return true
}

func (c *Coordinator) expireLockout(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.lockout.Expired(now) {
		return
	}
	c.lockout.LockedAt = time.Time{}
	c.lockout.Failures = 0
	c.state = domain.StateAwaitingFace
	if c.Liveness != nil {
		// The next face is a new session and passes as a first frame.
		c.Liveness.Reset()
	}
	c.Logger.Info("lockout expired")
}

func (c *Coordinator) record(ctx context.Context, rec domain.AttemptRecord) {
	if c.Attempts == nil {
		return
	}
	if _, err := c.Attempts.Record(ctx, rec); err != nil {
		c.Logger.Error("failed to log attempt", "kind", rec.Kind, "error", err)
	}
}

func (c *Coordinator) setState(s domain.SessionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) outcome(o Outcome) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	o.State = c.state
	o.Failures = c.lockout.Failures
	return o
}

// Status returns a snapshot for the status API.
func (c *Coordinator) Status() Status {
	now := c.Clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:          c.state.String(),
		Failures:       c.lockout.Failures,
		MaxAttempts:    c.cfg.MaxFailedAttempts,
		LastSimilarity: c.lastSimilarity,
		LastProfileID:  c.lastProfileID,
		LastError:      c.lastError,
	}
	if !c.lastAttempt.IsZero() {
		at := c.lastAttempt
		st.LastAttemptAt = &at
	}

	if c.lockout.Locked(now) {
		st.State = domain.StateLocked.String()
		st.LockRemaining = c.lockout.Remaining(now)
		st.LockRemainingMs = st.LockRemaining.Milliseconds()
		st.Message = lockMessage(st.LockRemaining)
	} else if c.lockout.Expired(now) {
		// Elapsed but not yet observed by the worker.
		st.State = domain.StateAwaitingFace.String()
		st.Failures = 0
		st.Message = message(domain.StateAwaitingFace)
	} else {
		st.Message = message(c.state)
	}
	return st
}

func lockMessage(remaining time.Duration) string {
	secs := int((remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("locked, %d seconds remaining", secs)
}

func message(s domain.SessionState) string {
	switch s {
	case domain.StateSucceeded:
		return "authenticated"
	case domain.StateAuthenticating:
		return "authenticating"
	case domain.StateLocked:
		return "locked"
	default:
		return "look at the camera"
	}
}
