package remotesync

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// Source selects which side, and therefore which root and backend, a
// relative path resolves against.
type Source int

const (
	// Local is the local filesystem under Config.LocalRoot.
	Local Source = iota + 1
	// Remote is the server under Config.RemoteRoot.
	Remote
)

func (s Source) String() string {
	switch s {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Valid reports whether s is Local or Remote.
func (s Source) Valid() bool {
	return s == Local || s == Remote
}

// Entry is one directory entry or stat result reported by a FileSystem.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FileSystem is the file-level surface shared by the local side and both
// remote transports. Paths are the absolute, resolved form produced by the
// Resolver. Absence is reported with an error matching fs.ErrNotExist.
type FileSystem interface {
	// ReadDir lists one directory level. Symlinks report their target type.
	ReadDir(ctx context.Context, dir string) ([]Entry, error)
	// Stat describes one path.
	Stat(ctx context.Context, name string) (Entry, error)
	// Retrieve streams the content of name into w.
	Retrieve(ctx context.Context, name string, w io.Writer) error
	// Store replaces the content of name with r.
	Store(ctx context.Context, name string, r io.Reader) error
	// MkdirAll creates dir and any missing parents.
	MkdirAll(ctx context.Context, dir string) error
	// Remove deletes a single file.
	Remove(ctx context.Context, name string) error
}

// Backend is a remote transport. A Session drives exactly one Backend and
// serialises every call to it.
type Backend interface {
	FileSystem

	// Protocol identifies the transport.
	Protocol() Protocol
	// Connect opens the transport connection.
	Connect(ctx context.Context) error
	// Authenticate logs in on an open connection and returns the session
	// token the Resolver uses for stream-style paths.
	Authenticate(ctx context.Context, user, credential string) (string, error)
	// RemotePath builds the addressable path of rel under root for the
	// authenticated token.
	RemotePath(root, token, rel string) string
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// NewBackend returns the Backend for cfg.Protocol.
//
//nolint:ireturn // the concrete transport is selected at runtime.
func NewBackend(cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Protocol {
	case ProtocolFTP:
		return NewFTPBackend(cfg, logger), nil
	case ProtocolSFTP:
		return NewSFTPBackend(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported protocol %q", ErrInvalidConfig, cfg.Protocol)
	}
}

func entryFromInfo(info os.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation cancelled: %w", err)
	}
	return nil
}
