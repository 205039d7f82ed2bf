package workspace

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/artpar/botctl/internal/core/deployment"
	"github.com/moby/go-archive"
)

// DefaultEntrypoint is the bot script started by the default Dockerfile.
const DefaultEntrypoint = "bot.py"

// Dockerfile is the build recipe file name inside a workspace.
const Dockerfile = "Dockerfile"

//go:embed assets/Dockerfile
var defaultDockerfile string

// sourceExcludes are never copied from a source bundle; they belong to the
// instance, not to the application.
var sourceExcludes = []string{
	deployment.SecretFile,
	deployment.DataDir,
	deployment.DescriptorFile,
	".git",
}

// DefaultDockerfile returns the embedded Dockerfile that starts entrypoint.
func DefaultDockerfile(entrypoint string) []byte {
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}
	return []byte(strings.ReplaceAll(defaultDockerfile, "{{ENTRYPOINT}}", entrypoint))
}

// CopySource copies the application bundle in srcDir into the workspace of
// slug. Instance-owned files (secret file, data directory, descriptor) are
// neither read from srcDir nor overwritten.
func (s *Store) CopySource(slug, srcDir string) error {
	if err := checkSlug("CopySource", slug); err != nil {
		return err
	}
	info, err := os.Stat(srcDir)
	if err != nil {
		return wrapFS("CopySource", "source", srcDir, err)
	}
	if !info.IsDir() {
		return NewWorkspaceError("CopySource", "source", srcDir, "not a directory", fs.ErrInvalid)
	}

	rc, err := archive.TarWithOptions(srcDir, &archive.TarOptions{
		ExcludePatterns: sourceExcludes,
	})
	if err != nil {
		return wrapFS("CopySource", "source", srcDir, err)
	}
	defer rc.Close()

	if err := archive.Untar(rc, s.ResolvePath(slug), &archive.TarOptions{NoLchown: true}); err != nil {
		return wrapFS("CopySource", "source", srcDir, err)
	}
	return nil
}

// EnsureDockerfile writes the default Dockerfile into the workspace of slug
// unless the bundle already provides one. It reports whether it wrote one.
func (s *Store) EnsureDockerfile(slug, entrypoint string) (bool, error) {
	if err := checkSlug("EnsureDockerfile", slug); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(s.ResolvePath(slug), Dockerfile))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, wrapFS("EnsureDockerfile", "file", Dockerfile, err)
	}
	if err := s.WriteFile(slug, Dockerfile, DefaultDockerfile(entrypoint), deployment.DescriptorFileMode); err != nil {
		return false, err
	}
	return true, nil
}
