package http_test

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	guardhttp "github.com/aussiebroadwan/faceguard/internal/guard/http"
	"github.com/aussiebroadwan/faceguard/internal/guard/credential"
	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/aussiebroadwan/faceguard/internal/guard/service"
	"github.com/aussiebroadwan/faceguard/internal/guard/store/drivers/sqlite"
	"github.com/aussiebroadwan/faceguard/pkg/cryptox"
	"github.com/aussiebroadwan/faceguard/pkg/guardsdk"
	"github.com/aussiebroadwan/faceguard/pkg/idx"
	"github.com/aussiebroadwan/faceguard/pkg/slogx"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type env struct {
	router   *guardhttp.Router
	store    *sqlite.Store
	profiles *service.ProfileService
	clock    *clockwork.FakeClock
}

func newEnv(t *testing.T) env {
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

	logger := slogx.Discard()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	profiles := &service.ProfileService{
		Store:       st,
		Credentials: credential.NewStore(dir, sealer),
		Clock:       clock,
		Logger:      logger,
	}

	r := guardhttp.NewRouter("test", st, logger)
	r.Coordinator = service.NewCoordinator(service.DefaultCoordinatorConfig(), clock, logger)
	r.Profiles = profiles
	r.ApplyRoutes()

	return env{router: r, store: st, profiles: profiles, clock: clock}
}

func (e env) enroll(t *testing.T, name string) domain.UserProfile {
	t.Helper()

	id := e.profiles.NewProfileID()
	emb := make(domain.Embedding, domain.EmbeddingSize)
	emb[0] = 1
	require.NoError(t, e.profiles.Credentials.Save(id, emb, image.NewGray(image.Rect(0, 0, 8, 8)), e.clock.Now()))
	p, err := e.profiles.Create(context.Background(), id, name, domain.RoleAdmin)
	require.NoError(t, err)
	return p
}

func (e env) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestLivez(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	rec := e.get(t, "/livez")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	body := decode[guardsdk.HealthResponse](t, rec)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "test", body.Version)
}

func TestReadyzRequiresEnrollment(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	rec := e.get(t, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[guardsdk.HealthResponse](t, rec)
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "ok", body.Checks.Database)
	require.Contains(t, body.Checks.Enrollment, "no enrolled profile")

	e.enroll(t, "owner")
	rec = e.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	rec := e.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[guardsdk.StatusResponse](t, rec)
	require.Equal(t, "idle", body.State)
	require.Equal(t, 15, body.MaxAttempts)
	require.Zero(t, body.Failures)
}

func TestAttempts(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()
	base := e.clock.Now()
	for i, kind := range []domain.AttemptKind{domain.AttemptFailure, domain.AttemptFailure, domain.AttemptSuccess} {
		at := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, e.store.Attempts().RecordAttempt(ctx, domain.AttemptRecord{
			ID:   idx.NewAt(at).String(),
			Kind: kind,
			At:   at,
		}))
	}

	rec := e.get(t, "/v1/attempts?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[guardsdk.ListAttemptsResponse](t, rec)
	require.Len(t, body.Attempts, 2)
	require.Equal(t, "SUCCESS", body.Attempts[0].Kind)

	rec = e.get(t, "/v1/attempts")
	require.Len(t, decode[guardsdk.ListAttemptsResponse](t, rec).Attempts, 3)

	for _, bad := range []string{"0", "-1", "abc"} {
		rec = e.get(t, "/v1/attempts?limit="+bad)
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
		require.Equal(t, "invalid_request", decode[guardsdk.APIError](t, rec).Code)
	}
}

func TestProfiles(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	owner := e.enroll(t, "owner")

	rec := e.get(t, "/v1/profiles")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[guardsdk.ListProfilesResponse](t, rec)
	require.Len(t, body.Profiles, 1)

	p := body.Profiles[0]
	require.Equal(t, owner.ID, p.ID)
	require.Equal(t, "admin", p.Role)
	require.True(t, p.Enrolled)
	require.Equal(t, 0.70, p.Threshold)
	require.NotContains(t, rec.Body.String(), "embedding")
}

func TestRejectsRemoteClients(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.RemoteAddr = "192.168.1.20:50000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownMethod(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/status", nil)
	req.RemoteAddr = "127.0.0.1:50000"
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
