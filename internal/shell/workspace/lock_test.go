package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/botctl/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_SecondHolderIsBusy(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Lock("shop")
	require.NoError(t, err)

	_, err = s.Lock("shop")
	assert.ErrorIs(t, err, domain.ErrBusy)

	require.NoError(t, first.Unlock())

	again, err := s.Lock("shop")
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestLock_DifferentSlugsAreIndependent(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Lock("a")
	require.NoError(t, err)
	defer a.Unlock()

	b, err := s.Lock("b")
	require.NoError(t, err)
	defer b.Unlock()
}

func TestLock_UnlockTwice(t *testing.T) {
	s := newTestStore(t)
	l, err := s.Lock("shop")
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
	assert.NoError(t, l.Unlock())

	var nilLock *Lock
	assert.NoError(t, nilLock.Unlock())
}

func TestLock_RejectsNonCanonical(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Lock("../../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestLock_CreatesRootWithWorkspaceMode(t *testing.T) {
	base := t.TempDir()
	s, err := NewStore(filepath.Join(base, "bots"))
	require.NoError(t, err)

	lock, err := s.Lock("shop")
	require.NoError(t, err)
	require.NoError(t, lock.Unlock())

	// Same umask, same requested mode.
	reference := filepath.Join(base, "reference")
	require.NoError(t, os.Mkdir(reference, dirMode))
	want, err := os.Stat(reference)
	require.NoError(t, err)

	root, err := os.Stat(s.Root())
	require.NoError(t, err)
	assert.Equal(t, want.Mode().Perm(), root.Mode().Perm())

	locks, err := os.Stat(filepath.Join(s.Root(), locksDir))
	require.NoError(t, err)
	assert.Zero(t, locks.Mode().Perm()&0o077)
}
