package certificate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yideng/edu-market/edu-market-backend/internal/access"
	"yideng/edu-market/edu-market-backend/internal/chain"
	"yideng/edu-market/edu-market-backend/pkg/apperr"
)

var (
	admin   = chain.AddressFromSeed("admin")
	market  = chain.AddressFromSeed("market")
	student = chain.AddressFromSeed("student")
	other   = chain.AddressFromSeed("other")
)

func setup(t *testing.T) (*chain.Executor, *Registry) {
	t.Helper()
	exec := chain.NewExecutor(chain.NewMemoryStore(), nil)
	exec.SetClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) })
	registry := NewRegistry(chain.ContractAddress(admin, 1))
	_, err := exec.Submit(context.Background(), admin, "init", func(tx *chain.Tx) error {
		return registry.Initialize(tx, "", "", "https://certs.example.com/")
	})
	require.NoError(t, err)
	return exec, registry
}

func submit(exec *chain.Executor, caller chain.Address, fn func(tx *chain.Tx) error) error {
	_, err := exec.Submit(context.Background(), caller, "test", fn)
	return err
}

func query(t *testing.T, exec *chain.Executor, fn func(tx *chain.Tx) error) {
	t.Helper()
	require.NoError(t, exec.Query(context.Background(), "", fn))
}

func mint(exec *chain.Executor, r *Registry, caller, holder chain.Address, course string) (uint64, error) {
	var id uint64
	err := submit(exec, caller, func(tx *chain.Tx) error {
		var err error
		id, err = r.MintCertificate(tx, holder, course)
		return err
	})
	return id, err
}

func TestInitialize(t *testing.T) {
	exec, registry := setup(t)

	var info *Info
	query(t, exec, func(tx *chain.Tx) error {
		var err error
		info, err = registry.Info(tx)
		return err
	})
	assert.Equal(t, DefaultName, info.Name)
	assert.Equal(t, DefaultSymbol, info.Symbol)
	assert.Zero(t, info.Issued)

	err := submit(exec, admin, func(tx *chain.Tx) error {
		return registry.Initialize(tx, "x", "y", "")
	})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestMintCertificate(t *testing.T) {
	exec, registry := setup(t)

	id, err := mint(exec, registry, admin, student, "WEB3-001")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	id, err = mint(exec, registry, admin, student, "WEB3-002")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	query(t, exec, func(tx *chain.Tx) error {
		cert, err := registry.Certificate(tx, 1)
		require.NoError(t, err)
		assert.Equal(t, student, cert.Holder)
		assert.Equal(t, "WEB3-001", cert.CourseID)
		assert.Equal(t, "https://certs.example.com/1", cert.MetadataURI)
		assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), cert.IssuedAt)

		ok, err := registry.HasCertificate(tx, student, "WEB3-001")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = registry.HasCertificate(tx, other, "WEB3-001")
		require.NoError(t, err)
		assert.False(t, ok)

		ids, err := registry.GetStudentCertificates(tx, student, "WEB3-002")
		require.NoError(t, err)
		assert.Equal(t, []uint64{2}, ids)

		n, err := registry.BalanceOf(tx, student)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)

		owner, err := registry.OwnerOf(tx, 2)
		require.NoError(t, err)
		assert.Equal(t, student, owner)

		certs, err := registry.CertificatesOf(tx, student)
		require.NoError(t, err)
		require.Len(t, certs, 2)
		assert.Equal(t, uint64(1), certs[0].TokenID)
		return nil
	})
}

func TestMintCertificate_RequiresMinterRole(t *testing.T) {
	exec, registry := setup(t)

	for _, course := range []string{"WEB3-001", "any", "课程/1"} {
		_, err := mint(exec, registry, market, student, course)
		assert.ErrorIs(t, err, access.ErrUnauthorized)
	}
	query(t, exec, func(tx *chain.Tx) error {
		n, err := registry.BalanceOf(tx, student)
		assert.Zero(t, n)
		_, certErr := registry.Certificate(tx, 1)
		assert.ErrorIs(t, certErr, ErrCertificateNotFound)
		return err
	})
}

func TestMintingCapabilityLifecycle(t *testing.T) {
	exec, registry := setup(t)

	assert.ErrorIs(t, submit(exec, other, func(tx *chain.Tx) error {
		return registry.GrantMintingCapability(tx, market)
	}), access.ErrUnauthorized)

	require.NoError(t, submit(exec, admin, func(tx *chain.Tx) error {
		return registry.GrantMintingCapability(tx, market)
	}))
	require.NoError(t, submit(exec, admin, func(tx *chain.Tx) error {
		return registry.GrantMintingCapability(tx, market)
	}))

	_, err := mint(exec, registry, market, student, "WEB3-001")
	require.NoError(t, err)

	require.NoError(t, submit(exec, admin, func(tx *chain.Tx) error {
		return registry.RevokeMintingCapability(tx, market)
	}))
	_, err = mint(exec, registry, market, student, "WEB3-001")
	assert.ErrorIs(t, err, access.ErrUnauthorized)

	query(t, exec, func(tx *chain.Tx) error {
		ok, err := registry.IsMinter(tx, market)
		assert.False(t, ok)
		return err
	})
}

func TestMintCertificate_ValidatesArguments(t *testing.T) {
	exec, registry := setup(t)

	_, err := mint(exec, registry, admin, chain.ZeroAddress, "WEB3-001")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = mint(exec, registry, admin, student, "  ")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestCourseIDsAreEscapedInKeys(t *testing.T) {
	exec, registry := setup(t)

	_, err := mint(exec, registry, admin, student, "a/b")
	require.NoError(t, err)

	query(t, exec, func(tx *chain.Tx) error {
		ids, err := registry.GetStudentCertificates(tx, student, "a")
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = registry.GetStudentCertificates(tx, student, "a/b")
		assert.Equal(t, []uint64{1}, ids)
		return err
	})
}
