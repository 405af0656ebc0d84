package remotesync

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sftpScheme = "sftp://"

// SFTPClient abstracts the SFTP operations the backend needs, for testing.
type SFTPClient interface {
	Open(path string) (SFTPFile, error)
	Create(path string) (SFTPFile, error)
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
	ReadDir(path string) ([]os.FileInfo, error)
	MkdirAll(path string) error
	Close() error
}

// SFTPFile abstracts file operations for testing.
type SFTPFile interface {
	io.Reader
	io.Writer
	io.Closer
}

// SFTPClientWrapper wraps the real sftp.Client to implement SFTPClient.
type SFTPClientWrapper struct {
	client *sftp.Client
}

var _ SFTPClient = (*SFTPClientWrapper)(nil)

func (w *SFTPClientWrapper) Open(path string) (SFTPFile, error)         { return w.client.Open(path) }
func (w *SFTPClientWrapper) Create(path string) (SFTPFile, error)       { return w.client.Create(path) }
func (w *SFTPClientWrapper) Remove(path string) error                   { return w.client.Remove(path) }
func (w *SFTPClientWrapper) Stat(path string) (os.FileInfo, error)      { return w.client.Stat(path) }
func (w *SFTPClientWrapper) ReadDir(path string) ([]os.FileInfo, error) { return w.client.ReadDir(path) }
func (w *SFTPClientWrapper) MkdirAll(path string) error                 { return w.client.MkdirAll(path) }
func (w *SFTPClientWrapper) Close() error                               { return w.client.Close() }

// SFTPBackend reaches the remote side as a filesystem over an SSH
// subsystem. Connect opens the TCP connection; Authenticate runs the SSH
// handshake and starts the SFTP subsystem on it.
type SFTPBackend struct {
	cfg    Config
	logger *zap.Logger

	conn       net.Conn
	sshClient  *ssh.Client
	sftpClient SFTPClient
}

// Ensure SFTPBackend implements Backend.
var _ Backend = (*SFTPBackend)(nil)

// NewSFTPBackend returns an unconnected SFTP backend for cfg.
func NewSFTPBackend(cfg Config, logger *zap.Logger) *SFTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SFTPBackend{cfg: cfg.WithDefaults(), logger: logger}
}

// NewSFTPBackendWithClient returns an SFTP backend that is already
// authenticated through client. This is primarily used for testing.
func NewSFTPBackendWithClient(cfg Config, client SFTPClient) *SFTPBackend {
	return &SFTPBackend{cfg: cfg.WithDefaults(), logger: zap.NewNop(), sftpClient: client}
}

// Protocol implements Backend.Protocol.
func (b *SFTPBackend) Protocol() Protocol {
	return ProtocolSFTP
}

// Connect implements Backend.Connect.
func (b *SFTPBackend) Connect(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if b.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: b.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", b.cfg.Addr(), err)
	}
	b.conn = conn
	return nil
}

// Authenticate implements Backend.Authenticate.
func (b *SFTPBackend) Authenticate(ctx context.Context, user, credential string) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	if b.conn == nil {
		return "", fmt.Errorf("not connected to %s", b.cfg.Addr())
	}

	cfg := b.cfg
	cfg.User = user
	cfg.Password = credential

	authMethods, err := buildAuthMethods(cfg)
	if err != nil {
		return "", err
	}

	hostKeyCallback, err := buildHostKeyCallback(cfg, b.logger)
	if err != nil {
		return "", fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}

	addr := cfg.Addr()
	if cfg.Timeout > 0 {
		_ = b.conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	ncc, chans, reqs, err := ssh.NewClientConn(b.conn, addr, sshConfig)
	if err != nil {
		return "", fmt.Errorf("could not authenticate with username %s: %w", user, err)
	}
	_ = b.conn.SetDeadline(time.Time{})

	sshClient := ssh.NewClient(ncc, chans, reqs)
	rawSftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return "", fmt.Errorf("could not initialize SFTP subsystem: %w", err)
	}

	b.sshClient = sshClient
	b.sftpClient = &SFTPClientWrapper{client: rawSftpClient}
	return user + "@" + addr, nil
}

// RemotePath implements Backend.RemotePath. Paths take the stream form
// sftp://<token>/<root>/<rel>.
func (b *SFTPBackend) RemotePath(root, token, rel string) string {
	prefix := sftpScheme + token
	rel = strings.TrimPrefix(filepath.ToSlash(rel), prefix)
	return prefix + JoinRemote(root, token, rel)
}

// ReadDir implements FileSystem.ReadDir.
func (b *SFTPBackend) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := b.ready(ctx); err != nil {
		return nil, err
	}

	dir = sftpPath(dir)
	infos, err := b.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry := entryFromInfo(info)
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := b.sftpClient.Stat(path.Join(dir, info.Name()))
			if err != nil {
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
func (b *SFTPBackend) Stat(ctx context.Context, name string) (Entry, error) {
	if err := b.ready(ctx); err != nil {
		return Entry{}, err
	}

	info, err := b.sftpClient.Stat(sftpPath(name))
	if err != nil {
		return Entry{}, err
	}
	return entryFromInfo(info), nil
}

// Retrieve implements FileSystem.Retrieve. On cancellation the remote file
// is closed and the copy has stopped writing to w before Retrieve returns.
func (b *SFTPBackend) Retrieve(ctx context.Context, name string, w io.Writer) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	file, err := b.sftpClient.Open(sftpPath(name))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(w, file)
		done <- err
	}()

	select {
	case <-ctx.Done():
		file.Close()
		<-done
		return fmt.Errorf("download cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to read remote file: %w", err)
		}
		return nil
	}
}

// Store implements FileSystem.Store. On cancellation the remote file is
// closed and the copy has stopped reading from r before Store returns.
func (b *SFTPBackend) Store(ctx context.Context, name string, r io.Reader) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	remoteFile, err := b.sftpClient.Create(sftpPath(name))
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer remoteFile.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(remoteFile, r)
		if err != nil {
			done <- fmt.Errorf("failed to copy file content: %w", err)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		remoteFile.Close()
		<-done
		return fmt.Errorf("upload cancelled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

// MkdirAll implements FileSystem.MkdirAll.
func (b *SFTPBackend) MkdirAll(ctx context.Context, dir string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	dir = sftpPath(dir)
	if dir == "" || dir == "/" || dir == "." {
		return nil
	}
	if err := b.sftpClient.MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
	}
	return nil
}

// Remove implements FileSystem.Remove.
func (b *SFTPBackend) Remove(ctx context.Context, name string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}

	return b.sftpClient.Remove(sftpPath(name))
}

// Close closes the SFTP subsystem, the SSH client and the connection.
func (b *SFTPBackend) Close() error {
	if b.sftpClient != nil {
		b.sftpClient.Close()
		b.sftpClient = nil
	}
	if b.sshClient != nil {
		b.sshClient.Close()
		b.sshClient = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

func (b *SFTPBackend) ready(ctx context.Context) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if b.sftpClient == nil {
		return fmt.Errorf("SFTP subsystem not initialized for %s", b.cfg.Addr())
	}
	return nil
}

// sftpPath strips the sftp://<token> prefix from a resolved path.
func sftpPath(name string) string {
	rest, ok := strings.CutPrefix(name, sftpScheme)
	if !ok {
		return name
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i:]
	}
	return "/"
}

func buildHostKeyCallback(config Config, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if config.InsecureIgnoreHostKey {
		logger.Warn("SSH host key verification disabled, this is insecure",
			zap.String("addr", config.Addr()))
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if config.KnownHostsFile != "" {
		expandedPath := ExpandPath(config.KnownHostsFile)
		callback, err := knownhosts.New(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expandedPath, err)
		}
		return callback, nil
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		defaultKnownHosts := filepath.Join(homeDir, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			logger.Warn("could not parse known_hosts file",
				zap.String("path", defaultKnownHosts), zap.Error(err))
		}
	}

	return nil, fmt.Errorf("no known_hosts file found for %s (set KnownHostsFile or InsecureIgnoreHostKey)", config.Addr())
}

func buildAuthMethods(config Config) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if config.PrivateKey != "" || config.KeyPath != "" {
		keyAuth, err := buildPrivateKeyAuth(config)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, keyAuth)
	}
	if config.Password != "" {
		authMethods = append(authMethods, ssh.Password(config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no SSH authentication method configured (set password, private_key or key_path)")
	}
	return authMethods, nil
}

func buildPrivateKeyAuth(config Config) (ssh.AuthMethod, error) {
	var keyData []byte
	var err error

	if config.PrivateKey != "" {
		keyData = []byte(config.PrivateKey)
	} else {
		keyData, err = os.ReadFile(ExpandPath(config.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key file: %w", err)
		}
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse SSH private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
