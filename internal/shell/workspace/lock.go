package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/artpar/botctl/internal/core/domain"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Instance Locks
// =============================================================================

// Lock is an exclusive advisory lock on one instance.
type Lock struct {
	slug string
	file *os.File
}

// Lock takes the exclusive lock of slug without blocking. If another
// process holds it, the error wraps domain.ErrBusy.
//
// Lock files live in <root>/.locks and are never removed, so every
// holder locks the same inode.
func (s *Store) Lock(slug string) (*Lock, error) {
	if err := checkSlug("Lock", slug); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.root, dirMode); err != nil {
		return nil, wrapFS("Lock", "lock", slug, err)
	}
	dir := filepath.Join(s.root, locksDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, wrapFS("Lock", "lock", slug, err)
	}

	f, err := os.OpenFile(filepath.Join(dir, slug+".lock"), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrapFS("Lock", "lock", slug, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, NewWorkspaceError("Lock", "lock", slug, "held by another process", domain.ErrBusy)
		}
		return nil, NewWorkspaceError("Lock", "lock", slug, err.Error(), fmt.Errorf("flock: %w", err))
	}

	return &Lock{slug: slug, file: f}, nil
}

// Unlock releases the lock. It is safe to call more than once.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	defer func() { l.file = nil }()
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return NewWorkspaceError("Unlock", "lock", l.slug, err.Error(), err)
	}
	return l.file.Close()
}
