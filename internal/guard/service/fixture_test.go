package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/attemptlog"
	"github.com/aussiebroadwan/faceguard/internal/guard/calibrate"
	"github.com/aussiebroadwan/faceguard/internal/guard/capture"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/embed"
	"github.com/aussiebroadwan/faceguard/internal/guard/liveness"
	"github.com/aussiebroadwan/faceguard/internal/guard/notify"
	"github.com/aussiebroadwan/faceguard/internal/guard/similarity"
	"github.com/aussiebroadwan/faceguard/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/faceguard/pkg/cryptox"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// stubDetector returns the configured faces for every frame.
type stubDetector struct {
	mu    sync.Mutex
	faces []domain.FaceRegion
}

func (d *stubDetector) set(faces ...domain.FaceRegion) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faces = faces
}

func (d *stubDetector) Detect(image.Image) (domain.FaceRegion, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.faces) == 0 {
		return domain.FaceRegion{}, false
	}
	return d.faces[0], true
}

func (d *stubDetector) DetectAll(image.Image) []domain.FaceRegion {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.FaceRegion, len(d.faces))
	copy(out, d.faces)
	return out
}

// stubInferencer maps the canonical face pixels to an embedding.
type stubInferencer struct {
	mu sync.Mutex
	fn func(pixels []float32) []float32
}

func (s *stubInferencer) set(fn func(pixels []float32) []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

// constant makes every face embed at the given cosine to unitVector().
func (s *stubInferencer) constant(sim float64) {
	v := probeVector(sim)
	s.set(func([]float32) []float32 { return v })
}

func (s *stubInferencer) RunInference(pixels []float32, _, _ int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn(pixels), nil
}

func (s *stubInferencer) Close() error { return nil }

func unitVector() []float32 {
	v := make([]float32, domain.EmbeddingSize)
	v[0] = 1
	return v
}

func probeVector(sim float64) []float32 {
	v := make([]float32, domain.EmbeddingSize)
	v[0] = float32(sim)
	v[1] = float32(math.Sqrt(1 - sim*sim))
	return v
}

func toEmbedding(v []float32) domain.Embedding {
	out := make(domain.Embedding, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// stubSource hands out fresh frames and counts releases.
type stubSource struct {
	clock clockwork.Clock
	img   image.Image

	mu       sync.Mutex
	opened   int
	released int
}

func (s *stubSource) Read(context.Context) (*capture.Frame, error) {
	s.mu.Lock()
	s.opened++
	s.mu.Unlock()
	return capture.NewFrame(s.img, s.clock.Now(), func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}), nil
}

func (s *stubSource) Close() error { return nil }

func (s *stubSource) balance() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.released
}

type countingLocker struct {
	mu    sync.Mutex
	calls int
}

func (l *countingLocker) Lock(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return nil
}

func (l *countingLocker) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Notify(_ context.Context, a notify.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// safeBuffer guards the attempt log output shared with background writers.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// texturedImage is a checkerboard with the given base shade.
func texturedImage(w, h int, shade uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := shade
			if (x/4+y/4)%2 == 0 {
				c = 255 - shade
			}
			img.SetRGBA(x, y, color.RGBA{R: c, G: c, B: c, A: 255})
		}
	}
	return img
}

// stripedImage uses the same shades as texturedImage in horizontal bands only.
func stripedImage(w, h int, shade uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := shade
			if (y/4)%2 == 0 {
				c = 255 - shade
			}
			img.SetRGBA(x, y, color.RGBA{R: c, G: c, B: c, A: 255})
		}
	}
	return img
}

func flatImage(w, h int, shade uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = shade, shade, shade, 255
	}
	return img
}

func faceRegion(img *image.RGBA) domain.FaceRegion {
	return domain.FaceRegion{Image: img, Box: img.Bounds(), Confidence: 0.9}
}

type fixture struct {
	ctx         context.Context
	clock       *clockwork.FakeClock
	dataDir     string
	store       *sqlite.Store
	creds       *credential.Store
	profiles    *ProfileService
	calibrator  *calibrate.Calibrator
	attempts    *attemptlog.Log
	attemptLog  *safeBuffer
	notifier    *recordingNotifier
	dispatcher  *notify.Dispatcher
	intrusion   *IntrusionMonitor
	detector    *stubDetector
	inferencer  *stubInferencer
	source      *stubSource
	locker      *countingLocker
	coordinator *Coordinator
}

func newFixture(t *testing.T, cfg CoordinatorConfig) *fixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	dataDir := t.TempDir()
	material, _, err := cryptox.LoadOrCreateKeyFile(filepath.Join(dataDir, "credential.key"))
	require.NoError(t, err)
	sealer, err := cryptox.NewSealer(material)
	require.NoError(t, err)

	logger := slogx.Discard()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	creds := credential.NewStore(dataDir, sealer)
	cal := calibrate.New(st, creds, logger, clock)

	inf := &stubInferencer{}
	inf.constant(1)
	extractor := embed.NewExtractor(inf, logger)

	profiles := &ProfileService{
		Store:       st,
		Credentials: creds,
		Extractor:   extractor,
		Scorer:      similarity.NewScorer(),
		Calibrator:  cal,
		Clock:       clock,
		Logger:      logger,
	}

	buf := &safeBuffer{}
	attempts := attemptlog.New(buf, st.Attempts(), logger)

	rec := &recordingNotifier{}
	dispatcher := notify.NewDispatcher(logger, clock, nil, rec)

	det := &stubDetector{}
	intrusion := NewIntrusionMonitor(det, profiles, attempts, dispatcher, filepath.Join(dataDir, "intrusions"), clock, logger)

	src := &stubSource{clock: clock, img: texturedImage(160, 120, 40)}
	locker := &countingLocker{}

	c := NewCoordinator(cfg, clock, logger)
	c.Source = src
	c.Detector = det
	c.Liveness = liveness.NewDetector()
	c.Extractor = extractor
	c.Profiles = profiles
	c.Calibrator = cal
	c.Attempts = attempts
	c.Intrusion = intrusion
	c.Locker = locker

	return &fixture{
		ctx:         context.Background(),
		clock:       clock,
		dataDir:     dataDir,
		store:       st,
		creds:       creds,
		profiles:    profiles,
		calibrator:  cal,
		attempts:    attempts,
		attemptLog:  buf,
		notifier:    rec,
		dispatcher:  dispatcher,
		intrusion:   intrusion,
		detector:    det,
		inferencer:  inf,
		source:      src,
		locker:      locker,
		coordinator: c,
	}
}

// testConfig is the default policy without liveness, so every detected face
// is scored.
func testConfig() CoordinatorConfig {
	cfg := DefaultCoordinatorConfig()
	cfg.LivenessEnabled = false
	return cfg
}

// enroll stores a credential whose embedding is emb and a matching profile.
func (f *fixture) enroll(t *testing.T, name string, emb []float32, ref image.Image) domain.UserProfile {
	t.Helper()

	id := f.profiles.NewProfileID()
	require.NoError(t, f.creds.Save(id, toEmbedding(emb), ref, f.clock.Now()))
	p, err := f.profiles.Create(f.ctx, id, name, domain.RoleAdmin)
	require.NoError(t, err)
	return p
}

// attempt runs one full tick and processes the queued frame.
func (f *fixture) attempt(t *testing.T) Outcome {
	t.Helper()

	require.Equal(t, TickDispatched, f.coordinator.Tick(f.ctx))
	out, ok := f.coordinator.processPending(f.ctx)
	require.True(t, ok)
	return out
}

func (f *fixture) kinds(t *testing.T) map[domain.AttemptKind]int {
	t.Helper()

	recs, err := f.store.Attempts().ListRecentAttempts(f.ctx, 1000)
	require.NoError(t, err)
	out := map[domain.AttemptKind]int{}
	for _, r := range recs {
		out[r.Kind]++
	}
	return out
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return len(entries)
}
