package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/artpar/botctl/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "bots"))
	require.NoError(t, err)
	return s
}

// =============================================================================
// Path Resolution Tests
// =============================================================================

func TestNewStore_RequiresRoot(t *testing.T) {
	_, err := NewStore("")
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestResolvePath_IsDirectChildOfRoot(t *testing.T) {
	s := newTestStore(t)
	raws := []string{" My Shop! ", "../../etc", "..", ".", "a/b/c", "shop.2", strings.Repeat("x", 200)}

	for _, raw := range raws {
		slug := domain.Canonicalize(raw)
		p := s.ResolvePath(slug)
		assert.Equal(t, s.Root(), filepath.Dir(p), "raw %q", raw)
		assert.Equal(t, slug, filepath.Base(p), "raw %q", raw)
	}
}

func TestResolvePath_Injective(t *testing.T) {
	s := newTestStore(t)
	seen := map[string]string{}
	for _, slug := range []string{"a", "b", "a.b", "a-b", "a_b", "bot"} {
		p := s.ResolvePath(slug)
		_, dup := seen[p]
		assert.False(t, dup, "path %s reused", p)
		seen[p] = slug
	}
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestList_MissingRootIsEmpty(t *testing.T) {
	s := newTestStore(t)
	slugs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, slugs)
}

func TestCreate_MakesDataDir(t *testing.T) {
	s := newTestStore(t)

	dir, err := s.Create("my-shop")
	require.NoError(t, err)

	assert.Equal(t, s.ResolvePath("my-shop"), dir)
	info, err := os.Stat(filepath.Join(dir, deployment.DataDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, s.Exists("my-shop"))
}

func TestCreate_Idempotent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("my-shop")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.ResolvePath("my-shop"), deployment.DataDir, "data.db"), []byte("x"), 0o600))

	_, err = s.Create("my-shop")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.ResolvePath("my-shop"), deployment.DataDir, "data.db"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestCreate_RejectsNonCanonical(t *testing.T) {
	s := newTestStore(t)
	for _, bad := range []string{"", "..", "../x", "My-Shop", "a/b"} {
		_, err := s.Create(bad)
		assert.ErrorIs(t, err, domain.ErrInput, "slug %q", bad)
	}
}

func TestList_ReflectsFilesystem(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create("b")
	require.NoError(t, err)
	_, err = s.Create("a")
	require.NoError(t, err)

	slugs, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, slugs)

	require.NoError(t, s.Destroy("a"))

	slugs, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, slugs)
}

func TestList_SkipsBookkeepingAndFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("shop")
	require.NoError(t, err)

	lock, err := s.Lock("shop")
	require.NoError(t, err)
	defer lock.Unlock()

	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), ".journal.db"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "notes"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "Not Canonical"), 0o755))

	slugs, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"shop"}, slugs)
}

func TestDestroy_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Destroy("never-created"))

	_, err := s.Create("shop")
	require.NoError(t, err)
	require.NoError(t, s.Destroy("shop"))
	require.NoError(t, s.Destroy("shop"))
	assert.False(t, s.Exists("shop"))
}

func TestExists_NonCanonicalIsFalse(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Exists(".."))
	assert.False(t, s.Exists(""))
}

// =============================================================================
// File Tests
// =============================================================================

func TestWriteFile_SetsModeAndReplaces(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("shop")
	require.NoError(t, err)

	require.NoError(t, s.WriteFile("shop", deployment.SecretFile, []byte("BOT_TOKEN=1:a\n"), deployment.SecretFileMode))
	require.NoError(t, s.WriteFile("shop", deployment.SecretFile, []byte("BOT_TOKEN=2:b\n"), deployment.SecretFileMode))

	info, err := os.Stat(filepath.Join(s.ResolvePath("shop"), deployment.SecretFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := s.ReadFile("shop", deployment.SecretFile)
	require.NoError(t, err)
	assert.Equal(t, "BOT_TOKEN=2:b\n", string(data))

	entries, err := os.ReadDir(s.ResolvePath("shop"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file left behind")
	}
}

func TestWriteFile_RejectsPaths(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("shop")
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../x", "sub/file"} {
		err := s.WriteFile("shop", name, nil, 0o644)
		assert.ErrorIs(t, err, domain.ErrInput, "name %q", name)
	}
}

func TestReadFile_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("shop")
	require.NoError(t, err)

	_, err = s.ReadFile("shop", deployment.SecretFile)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWorkspaceError_Error(t *testing.T) {
	err := NewWorkspaceError("Create", "workspace", "shop", "boom", nil)
	assert.Equal(t, "Create workspace shop: boom", err.Error())

	err = NewWorkspaceError("List", "workspace", "", "boom", nil)
	assert.Equal(t, "List workspace: boom", err.Error())

	err = NewWorkspaceError("NewStore", "", "", "boom", nil)
	assert.Equal(t, "NewStore: boom", err.Error())
}
