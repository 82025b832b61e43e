package service

import (
	"testing"

	"github.com/aussiebroadwan/faceguard/internal/guard/domain"
	"github.com/stretchr/testify/require"
)

func newRegistration(f *fixture) *RegistrationService {
	return &RegistrationService{
		Source:      f.source,
		Detector:    f.detector,
		Extractor:   f.profiles.Extractor,
		Profiles:    f.profiles,
		Credentials: f.creds,
		Clock:       f.clock,
		Logger:      f.profiles.Logger,
		MaxFrames:   3,
	}
}

func TestRegisterEnrollsFirstProfileAsAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	reg := newRegistration(f)
	f.detector.set(faceRegion(texturedImage(80, 80, 30)))

	owner, err := reg.Register(f.ctx, "owner")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, owner.Role)
	require.True(t, f.creds.Exists(owner.ID))
	require.FileExists(t, f.creds.ReferencePath(owner.ID))

	cred, err := f.creds.Load(owner.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.0, cred.Embedding[0], 1e-6)

	second, err := reg.Register(f.ctx, "partner")
	require.NoError(t, err)
	require.Equal(t, domain.RoleStandard, second.Role)

	enrolled, err := f.profiles.HasEnrollment(f.ctx)
	require.NoError(t, err)
	require.True(t, enrolled)
}

func TestRegisterGivesUpWithoutFace(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	reg := newRegistration(f)

	_, err := reg.Register(f.ctx, "owner")
	require.ErrorIs(t, err, ErrNoFaceCaptured)

	opened, released := f.source.balance()
	require.Equal(t, 3, opened)
	require.Equal(t, opened, released)

	n, err := f.store.Profiles().CountProfiles(f.ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResetRemovesCredentials(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testConfig())
	reg := newRegistration(f)
	f.detector.set(faceRegion(texturedImage(80, 80, 30)))

	owner, err := reg.Register(f.ctx, "owner")
	require.NoError(t, err)
	partner, err := reg.Register(f.ctx, "partner")
	require.NoError(t, err)

	n, err := reg.Reset(f.ctx, "owner", false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.False(t, f.creds.Exists(owner.ID))
	require.NoDirExists(t, f.creds.ReferenceDir(owner.ID))
	require.True(t, f.creds.Exists(partner.ID))

	n, err = reg.Reset(f.ctx, "", true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	enrolled, err := f.profiles.HasEnrollment(f.ctx)
	require.NoError(t, err)
	require.False(t, enrolled)
}
