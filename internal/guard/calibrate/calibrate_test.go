package calibrate_test

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/faceguard/internal/guard/calibrate"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/faceguard/pkg/cryptox"
	"github.com/aussiebroadwan/faceguard/pkg/idx"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestThresholdBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		avg  float64
		want float64
	}{
		{0.0, 0.70},
		{0.65, 0.70},
		{0.66, 0.65},
		{0.75, 0.65},
		{0.76, 0.60},
		{0.85, 0.60},
		{0.86, 0.55},
		{1.0, 0.55},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, calibrate.Threshold(tt.avg), "avg=%v", tt.avg)
	}
}

func TestThresholdIsNonIncreasing(t *testing.T) {
	t.Parallel()

	prev := calibrate.Threshold(0)
	for avg := 0.0; avg <= 1.0; avg += 0.005 {
		cur := calibrate.Threshold(avg)
		require.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestConfidenceMapping(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0.5, calibrate.Confidence(0.7, 0.7), 1e-12)
	require.InDelta(t, 1.0, calibrate.Confidence(1.0, 0.7), 1e-12)
	require.InDelta(t, 0.75, calibrate.Confidence(0.85, 0.7), 1e-12)
	require.InDelta(t, 0.3, calibrate.Confidence(0.6, 0.7), 1e-12)
	require.InDelta(t, 0.0, calibrate.Confidence(-0.4, 0.7), 1e-12)
	require.Less(t, calibrate.Confidence(0.6999, 0.7), 0.5)
}

func TestUpdateAverage(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0.8, calibrate.UpdateAverage(0, 0, 0.8), 1e-12)
	require.InDelta(t, 0.7, calibrate.UpdateAverage(0.8, 1, 0.6), 1e-12)
	require.InDelta(t, 0.75, calibrate.UpdateAverage(0.5, 3, 1.5), 1e-12)
}

type fixture struct {
	cal     *calibrate.Calibrator
	profile domain.UserProfile
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	dir := t.TempDir()
	material, _, err := cryptox.LoadOrCreateKeyFile(filepath.Join(dir, "credential.key"))
	require.NoError(t, err)
	sealer, err := cryptox.NewSealer(material)
	require.NoError(t, err)

	p := domain.UserProfile{ID: idx.New().String(), DisplayName: "owner", Role: domain.RoleAdmin, Active: true}
	require.NoError(t, st.Profiles().CreateProfile(context.Background(), p))

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	cal := calibrate.New(st, credential.NewStore(dir, sealer), slogx.Discard(), clock)
	return fixture{cal: cal, profile: p, clock: clock}
}

func face(shade uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 48, 48))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.SetGray(3, 3, color.Gray{Y: 255 - shade})
	return img
}

func TestRecordUpdatesRollingAverage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	// avg 0 -> threshold 0.70; similarity 1.0 -> confidence 1.0
	p, err := f.cal.Record(ctx, f.profile.ID, 1.0, true)
	require.NoError(t, err)
	require.Equal(t, 1, p.Successes)
	require.InDelta(t, 1.0, p.AvgConfidence, 1e-12)

	// avg 1.0 -> threshold 0.55; similarity 0.4 -> confidence 0.2
	p, err = f.cal.Record(ctx, f.profile.ID, 0.4, false)
	require.NoError(t, err)
	require.Equal(t, 1, p.Failures)
	require.InDelta(t, 0.6, p.AvgConfidence, 1e-12)

	threshold, err := f.cal.ThresholdFor(ctx, f.profile.ID)
	require.NoError(t, err)
	require.Equal(t, 0.70, threshold)

	_, err = f.cal.Record(ctx, "missing", 1, true)
	require.Error(t, err)
}

func TestLearnRequiresConfidentMatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	added, err := f.cal.Learn(ctx, f.profile.ID, face(80), 0.74)
	require.NoError(t, err)
	require.False(t, added)

	added, err = f.cal.Learn(ctx, f.profile.ID, face(80), 0.75)
	require.NoError(t, err)
	require.True(t, added)

	refs, err := f.cal.Store.References().ListReferences(ctx, f.profile.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.FileExists(t, refs[0].Path)
}

func TestLearnEvictsOldestPastCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	var paths []string
	for i := 0; i < calibrate.DefaultMaxReferences+3; i++ {
		added, err := f.cal.Learn(ctx, f.profile.ID, face(uint8(40+i)), 0.9)
		require.NoError(t, err)
		require.True(t, added)

		refs, err := f.cal.Store.References().ListReferences(ctx, f.profile.ID)
		require.NoError(t, err)
		paths = append(paths, refs[len(refs)-1].Path)
		f.clock.Advance(time.Second)
	}

	refs, err := f.cal.Store.References().ListReferences(ctx, f.profile.ID)
	require.NoError(t, err)
	require.Len(t, refs, calibrate.DefaultMaxReferences)
	require.Equal(t, paths[3], refs[0].Path)

	for _, p := range paths[:3] {
		_, err := os.Stat(p)
		require.ErrorIs(t, err, os.ErrNotExist, "evicted file %s should be removed", p)
	}

	imgs, err := f.cal.References(ctx, f.profile.ID)
	require.NoError(t, err)
	require.Len(t, imgs, calibrate.DefaultMaxReferences)
}
