package remotesync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// LocalFS is the local side of a Session, backed by a go-billy filesystem.
type LocalFS struct {
	fs billy.Filesystem
}

// Ensure LocalFS implements FileSystem.
var _ FileSystem = (*LocalFS)(nil)

// hostFS is a billy.Filesystem that acts like the native filesystem, so
// absolute resolved paths pass through unchanged.
type hostFS struct {
	osfs.ChrootOS
}

// Chroot returns a new filesystem rooted at the provided path.
//
//nolint:ireturn // signature is dictated by billy.Filesystem.
func (h *hostFS) Chroot(path string) (billy.Filesystem, error) {
	return osfs.New(path), nil
}

// Root returns the root path for this filesystem.
func (h *hostFS) Root() string {
	return string(filepath.Separator)
}

// NewLocalFS wraps fsys. A nil fsys uses the host filesystem.
func NewLocalFS(fsys billy.Filesystem) *LocalFS {
	if fsys == nil {
		fsys = &hostFS{}
	}
	return &LocalFS{fs: fsys}
}

// Raw returns the underlying go-billy filesystem.
//
//nolint:ireturn // exposes the adapter target.
func (l *LocalFS) Raw() billy.Filesystem {
	return l.fs
}

// ReadDir implements FileSystem.ReadDir.
func (l *LocalFS) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	infos, err := l.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry := entryFromInfo(info)
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := l.fs.Stat(filepath.Join(dir, info.Name()))
			if err != nil {
				// Dangling link, nothing to follow.
				continue
			}
			entry.IsDir = target.IsDir()
			entry.Size = target.Size()
			entry.ModTime = target.ModTime()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stat implements FileSystem.Stat.
func (l *LocalFS) Stat(ctx context.Context, name string) (Entry, error) {
	if err := ctxErr(ctx); err != nil {
		return Entry{}, err
	}

	info, err := l.fs.Stat(name)
	if err != nil {
		return Entry{}, err
	}
	return entryFromInfo(info), nil
}

// Retrieve implements FileSystem.Retrieve.
func (l *LocalFS) Retrieve(ctx context.Context, name string, w io.Writer) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	f, err := l.fs.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read local file: %w", err)
	}
	return nil
}

// Store implements FileSystem.Store.
func (l *LocalFS) Store(ctx context.Context, name string, r io.Reader) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	f, err := l.fs.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write local file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close local file: %w", err)
	}
	return nil
}

// MkdirAll implements FileSystem.MkdirAll.
func (l *LocalFS) MkdirAll(ctx context.Context, dir string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create local directory %s: %w", dir, err)
	}
	return nil
}

// Remove implements FileSystem.Remove.
func (l *LocalFS) Remove(ctx context.Context, name string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	return l.fs.Remove(name)
}
