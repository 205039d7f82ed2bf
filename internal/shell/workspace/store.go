// Package workspace manages the on-disk workspaces of bot instances.
//
// Each instance owns exactly one directory <root>/<slug>. The set of such
// directories is the instance registry; nothing else records which
// instances exist.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/artpar/botctl/internal/core/domain"
)

// DefaultRoot is the base directory of all workspaces.
const DefaultRoot = "/opt/telegram-bots"

const (
	dirMode  = 0o755
	locksDir = ".locks"
)

// =============================================================================
// Store
// =============================================================================

// Store resolves, creates and destroys instance workspaces under one root.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root. The root does not need to exist yet.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, NewWorkspaceError("NewStore", "", "", "root path is required", domain.ErrInput)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, NewWorkspaceError("NewStore", "", root, err.Error(), err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.root
}

// ResolvePath returns the workspace directory of slug.
// For canonical slugs the result is always a direct child of the root.
func (s *Store) ResolvePath(slug string) string {
	return filepath.Join(s.root, slug)
}

// List returns the canonical slugs that have a workspace, sorted.
// A missing root means no instances.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, wrapFS("List", "workspace", "", err)
	}

	slugs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && domain.IsCanonical(e.Name()) {
			slugs = append(slugs, e.Name())
		}
	}
	return slugs, nil
}

// Exists reports whether slug has a workspace directory.
func (s *Store) Exists(slug string) bool {
	if !domain.IsCanonical(slug) {
		return false
	}
	info, err := os.Stat(s.ResolvePath(slug))
	return err == nil && info.IsDir()
}

// Create ensures the workspace of slug and its data directory exist.
// It is idempotent and returns the workspace path.
func (s *Store) Create(slug string) (string, error) {
	if err := checkSlug("Create", slug); err != nil {
		return "", err
	}
	dir := s.ResolvePath(slug)
	if err := os.MkdirAll(filepath.Join(dir, deployment.DataDir), dirMode); err != nil {
		return "", wrapFS("Create", "workspace", slug, err)
	}
	return dir, nil
}

// Destroy removes the workspace of slug recursively. Removing a missing
// workspace succeeds.
func (s *Store) Destroy(slug string) error {
	if err := checkSlug("Destroy", slug); err != nil {
		return err
	}
	if err := os.RemoveAll(s.ResolvePath(slug)); err != nil {
		return wrapFS("Destroy", "workspace", slug, err)
	}
	return nil
}

// =============================================================================
// Files
// =============================================================================

// WriteFile atomically replaces name inside the workspace of slug.
// Readers observe either the old or the new content, never a partial file.
func (s *Store) WriteFile(slug, name string, content []byte, mode os.FileMode) error {
	if err := checkSlug("WriteFile", slug); err != nil {
		return err
	}
	if err := checkFileName("WriteFile", name); err != nil {
		return err
	}

	dir := s.ResolvePath(slug)
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return wrapFS("WriteFile", "file", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return wrapFS("WriteFile", "file", name, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return wrapFS("WriteFile", "file", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return wrapFS("WriteFile", "file", name, err)
	}
	if err := tmp.Close(); err != nil {
		return wrapFS("WriteFile", "file", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return wrapFS("WriteFile", "file", name, err)
	}
	return nil
}

// ReadFile reads name from the workspace of slug.
// A missing file yields an error wrapping fs.ErrNotExist.
func (s *Store) ReadFile(slug, name string) ([]byte, error) {
	if err := checkSlug("ReadFile", slug); err != nil {
		return nil, err
	}
	if err := checkFileName("ReadFile", name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.ResolvePath(slug), name))
	if err != nil {
		return nil, wrapFS("ReadFile", "file", name, err)
	}
	return data, nil
}

// =============================================================================
// Validation
// =============================================================================

func checkSlug(op, slug string) error {
	if !domain.IsCanonical(slug) {
		return NewWorkspaceError(op, "workspace", slug, "not a canonical instance name",
			fmt.Errorf("%w: invalid instance name %q", domain.ErrInput, slug))
	}
	return nil
}

func checkFileName(op, name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return NewWorkspaceError(op, "file", name, "file name must not contain a path",
			fmt.Errorf("%w: invalid file name %q", domain.ErrInput, name))
	}
	return nil
}
