package remotesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gonzalop/ftp"
	"go.uber.org/zap"
)

// FTP reply codes the backend interprets.
const (
	ftpFileUnavailable = 550
	ftpNotImplemented  = 502
	ftpSyntaxError     = 500
)

// FTPBackend drives a command-based FTP session. Every call occupies the
// single control channel until it completes.
type FTPBackend struct {
	cfg    Config
	logger *zap.Logger
	client *ftp.Client
}

// Ensure FTPBackend implements Backend.
var _ Backend = (*FTPBackend)(nil)

// NewFTPBackend returns an unconnected FTP backend for cfg.
func NewFTPBackend(cfg Config, logger *zap.Logger) *FTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FTPBackend{cfg: cfg.WithDefaults(), logger: logger}
}

// Protocol implements Backend.Protocol.
func (b *FTPBackend) Protocol() Protocol {
	return ProtocolFTP
}

// Connect implements Backend.Connect. The control connection is opened and
// the greeting read; no login happens here.
func (b *FTPBackend) Connect(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if b.client != nil {
		return nil
	}

	var (
		client *ftp.Client
		err    error
	)
	if b.cfg.Passive {
		client, err = ftp.Dial(b.cfg.Addr(), ftp.WithTimeout(b.cfg.Timeout))
	} else {
		client, err = ftp.Dial(b.cfg.Addr(), ftp.WithTimeout(b.cfg.Timeout), ftp.WithActiveMode())
	}
	if err != nil {
		return fmt.Errorf("could not connect to %q on port %d: %w", b.cfg.Host, b.cfg.Port, err)
	}
	b.client = client
	return nil
}

// Authenticate implements Backend.Authenticate with USER/PASS.
func (b *FTPBackend) Authenticate(ctx context.Context, user, credential string) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	if b.client == nil {
		return "", fmt.Errorf("not connected to %s", b.cfg.Addr())
	}

	if err := b.client.Login(user, credential); err != nil {
		return "", fmt.Errorf("could not authenticate with username %s: %w", user, err)
	}
	return user + "@" + b.cfg.Addr(), nil
}

// RemotePath implements Backend.RemotePath. The token plays no part in FTP
// paths.
func (b *FTPBackend) RemotePath(root, token, rel string) string {
	return JoinRemote(root, token, rel)
}

// ReadDir implements FileSystem.ReadDir with one LIST command.
func (b *FTPBackend) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}

	dir = CleanRemote(dir)
	listing, err := b.client.List(dir)
	if err != nil {
		if ftpCode(err) == ftpFileUnavailable {
			return nil, notExist("list", dir, err)
		}
		return nil, fmt.Errorf("failed to list remote directory %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(listing))
	for _, item := range listing {
		name := path.Base(item.Name)
		if name == "." || name == ".." || name == "/" || isFTPSelf(string(item.Type)) {
			continue
		}
		entry := Entry{
			Name:  name,
			IsDir: isFTPDir(string(item.Type)),
			Size:  int64(item.Size),
		}
		if isFTPLink(string(item.Type)) {
			entry.IsDir = b.linkIsDir(path.Join(dir, name))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// linkIsDir reports whether the symlink at name points to a directory. MLST
// on the link reports the target's facts; the working directory is left
// alone.
func (b *FTPBackend) linkIsDir(name string) bool {
	fact, err := b.client.MLStat(name)
	if err != nil {
		return false
	}
	return isFTPDir(string(fact.Type))
}

// Stat implements FileSystem.Stat. MLST is tried first; servers without it
// fall back to listing the parent directory.
func (b *FTPBackend) Stat(ctx context.Context, name string) (Entry, error) {
	if err := b.ready(ctx); err != nil {
		return Entry{}, err
	}

	name = CleanRemote(name)
	if name == "/" {
		return Entry{Name: "/", IsDir: true}, nil
	}

	var entry Entry
	fact, err := b.client.MLStat(name)
	switch {
	case err == nil:
		entry = Entry{
			Name:  path.Base(name),
			IsDir: isFTPDir(string(fact.Type)),
			Size:  int64(fact.Size),
		}
	case ftpCode(err) == ftpFileUnavailable:
		return Entry{}, notExist("stat", name, err)
	case ftpCode(err) == ftpNotImplemented || ftpCode(err) == ftpSyntaxError:
		b.logger.Debug("server lacks MLST, listing parent directory",
			zap.String("addr", b.cfg.Addr()), zap.String("path", name))
		entry, err = b.statFromParent(ctx, name)
		if err != nil {
			return Entry{}, err
		}
	default:
		return Entry{}, fmt.Errorf("failed to stat remote file %s: %w", name, err)
	}

	if !entry.IsDir {
		if modTime, err := b.client.ModTime(name); err == nil {
			entry.ModTime = modTime
		}
	}
	return entry, nil
}

func (b *FTPBackend) statFromParent(ctx context.Context, name string) (Entry, error) {
	entries, err := b.ReadDir(ctx, path.Dir(name))
	if err != nil {
		return Entry{}, err
	}
	base := path.Base(name)
	for _, entry := range entries {
		if entry.Name == base {
			return entry, nil
		}
	}
	return Entry{}, notExist("stat", name, errors.New("no such entry in parent listing"))
}

// Retrieve implements FileSystem.Retrieve with RETR.
func (b *FTPBackend) Retrieve(ctx context.Context, name string, w io.Writer) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	name = CleanRemote(name)
	if err := b.client.Retrieve(name, w); err != nil {
		if ftpCode(err) == ftpFileUnavailable {
			return notExist("retrieve", name, err)
		}
		return fmt.Errorf("failed to retrieve remote file %s: %w", name, err)
	}
	return nil
}

// Store implements FileSystem.Store with STOR.
func (b *FTPBackend) Store(ctx context.Context, name string, r io.Reader) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	name = CleanRemote(name)
	if err := b.client.Store(name, r); err != nil {
		return fmt.Errorf("failed to store remote file %s: %w", name, err)
	}
	return nil
}

// MkdirAll implements FileSystem.MkdirAll with one MKD per missing segment.
func (b *FTPBackend) MkdirAll(ctx context.Context, dir string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	dir = CleanRemote(dir)
	if dir == "/" {
		return nil
	}

	current := ""
	for _, segment := range strings.Split(strings.Trim(dir, "/"), "/") {
		current += "/" + segment
		// MKD fails for segments that already exist; the final Stat decides.
		_ = b.client.MakeDir(current)
	}

	entry, err := b.Stat(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
	}
	if !entry.IsDir {
		return fmt.Errorf("failed to create remote directory %s: not a directory", dir)
	}
	return nil
}

// Remove implements FileSystem.Remove with DELE. A 550 reply is reported as
// absence only when the path really is gone.
func (b *FTPBackend) Remove(ctx context.Context, name string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	name = CleanRemote(name)
	err := b.client.Delete(name)
	if err == nil {
		return nil
	}
	if ftpCode(err) == ftpFileUnavailable {
		if _, statErr := b.Stat(ctx, name); isNotExist(statErr) {
			return notExist("remove", name, err)
		}
	}
	return fmt.Errorf("failed to delete remote file %s: %w", name, err)
}

// Close sends QUIT and drops the control connection.
func (b *FTPBackend) Close() error {
	if b.client != nil {
		_ = b.client.Quit()
		b.client = nil
	}
	return nil
}

func (b *FTPBackend) ready(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if b.client == nil {
		return fmt.Errorf("not connected to %s", b.cfg.Addr())
	}
	return nil
}

func ftpCode(err error) int {
	var protocolErr *ftp.ProtocolError
	if errors.As(err, &protocolErr) {
		return int(protocolErr.Code)
	}
	return 0
}

func isFTPDir(kind string) bool {
	switch strings.ToLower(kind) {
	case "dir", "directory", "folder":
		return true
	}
	return false
}

// isFTPSelf reports the MLSD facts for the listed directory and its parent.
func isFTPSelf(kind string) bool {
	kind = strings.ToLower(kind)
	return kind == "cdir" || kind == "pdir"
}

func isFTPLink(kind string) bool {
	switch strings.ToLower(kind) {
	case "link", "symlink", "os.unix=symlink":
		return true
	}
	return false
}
