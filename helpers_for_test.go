package remotesync

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gonzalop/ftp/server"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	testUser     = "deploy"
	testPassword = "s3cret"
)

// generateTestRSAKey creates a test RSA private key and returns both PEM-encoded
// key content and a path to a temp file containing the key.
func generateTestRSAKey(t *testing.T) (string, string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")

	privateKeyPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}))

	keyPath := filepath.Join(t.TempDir(), "test_key")
	require.NoError(t, os.WriteFile(keyPath, []byte(privateKeyPEM), 0600), "failed to write key file")

	return privateKeyPEM, keyPath
}

// generateTestPublicKey derives the authorized_keys line for an RSA private key.
func generateTestPublicKey(t *testing.T, privateKeyPEM string) string {
	t.Helper()

	block, _ := pem.Decode([]byte(privateKeyPEM))
	require.NotNil(t, block, "failed to parse PEM block")

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	require.NoError(t, err, "failed to parse private key")

	publicKey, err := gossh.NewPublicKey(&privateKey.PublicKey)
	require.NoError(t, err, "failed to create SSH public key")

	return string(gossh.MarshalAuthorizedKey(publicKey))
}

// createTestFileStructure creates a directory structure with files for testing.
// Files is a map of relative path -> content.
func createTestFileStructure(t testing.TB, files map[string][]byte) string {
	t.Helper()

	tmpDir := t.TempDir()
	writeTestFiles(t, tmpDir, files)
	return tmpDir
}

func writeTestFiles(t testing.TB, root string, files map[string][]byte) {
	t.Helper()

	for relPath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relPath))
		require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0755), "failed to create directory")
		require.NoError(t, os.WriteFile(fullPath, content, 0644), "failed to write file")
	}
}

// assertFileContents verifies that a file has the expected content.
func assertFileContents(t *testing.T, path string, expected []byte) {
	t.Helper()

	content, err := os.ReadFile(path)
	if !assert.NoError(t, err, "failed to read file %s", path) {
		return
	}
	assert.Equal(t, string(expected), string(content), "file content mismatch")
}

// newTestConfig returns a Config that validates and points at nothing real.
func newTestConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		Protocol:              ProtocolSFTP,
		Host:                  "localhost",
		User:                  testUser,
		Password:              testPassword,
		LocalRoot:             "/local",
		RemoteRoot:            "/remote",
		InsecureIgnoreHostKey: true,
	}
}

// newMockSession returns a Session whose local side is an in-memory
// filesystem rooted at /local and whose remote side is a mockBackend rooted
// at /remote. Paths in local and remote are relative to the roots.
func newMockSession(t *testing.T, local, remote map[string][]byte, opts ...Option) (*Session, *mockBackend) {
	t.Helper()

	localFS := memfs.New()
	for rel, content := range local {
		require.NoError(t, util.WriteFile(localFS, filepath.Join("/local", rel), content, 0o644), "failed to write local file %s", rel)
	}
	require.NoError(t, localFS.MkdirAll("/local", 0o755), "failed to create local root")

	backend := newMockBackend()
	for rel, content := range remote {
		backend.SetFile(JoinRemote("/remote", "", rel), content)
	}
	require.NoError(t, backend.fs.MkdirAll("/remote", 0o755), "failed to create remote root")

	opts = append([]Option{WithBackend(backend), WithLocalFileSystem(localFS)}, opts...)
	s, err := New(newTestConfig(t), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, backend
}

// startSFTPServer runs an in-process SSH server with the SFTP subsystem,
// serving the host filesystem. It returns a Config pointing at it with a
// remote root in a fresh temp directory and a known_hosts file for its key.
func startSFTPServer(t testing.TB) Config {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err, "failed to generate host key")
	signer, err := gossh.NewSignerFromKey(hostKey)
	require.NoError(t, err, "failed to create host key signer")

	serverConfig := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	serverConfig.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to listen")
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, serverConfig)
		}
	}()

	addr := listener.Addr().String()
	knownHostsFile := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{addr}, signer.PublicKey())
	require.NoError(t, os.WriteFile(knownHostsFile, []byte(line+"\n"), 0600), "failed to write known_hosts")

	host, port := splitAddr(t, addr)
	return Config{
		Protocol:       ProtocolSFTP,
		Host:           host,
		Port:           port,
		User:           testUser,
		Password:       testPassword,
		KnownHostsFile: knownHostsFile,
		LocalRoot:      t.TempDir(),
		RemoteRoot:     t.TempDir(),
		Timeout:        5 * time.Second,
	}
}

func serveSSH(conn net.Conn, config *gossh.ServerConfig) {
	defer conn.Close()

	_, chans, reqs, err := gossh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go gossh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(gossh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}

		go func(in <-chan *gossh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
			}
		}(requests)

		srv, err := sftp.NewServer(channel)
		if err != nil {
			channel.Close()
			continue
		}
		go func() {
			_ = srv.Serve()
			srv.Close()
		}()
	}
}

// startFTPServer runs an in-process FTP server chrooted to a temp directory.
// It returns a Config pointing at it and the directory backing "/".
func startFTPServer(t testing.TB) (Config, string) {
	t.Helper()

	rootDir := t.TempDir()
	driver, err := server.NewFSDriver(rootDir,
		server.WithAuthenticator(func(user, pass, _ string, _ net.IP) (string, bool, error) {
			if user == testUser && pass == testPassword {
				return rootDir, false, nil
			}
			return "", false, errors.New("authentication failed")
		}),
	)
	require.NoError(t, err)

	s, err := server.NewServer("127.0.0.1:0", server.WithDriver(driver))
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = s.Serve(listener)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	host, port := splitAddr(t, listener.Addr().String())
	return Config{
		Protocol:   ProtocolFTP,
		Host:       host,
		Port:       port,
		User:       testUser,
		Password:   testPassword,
		Passive:    true,
		LocalRoot:  t.TempDir(),
		RemoteRoot: "/",
		Timeout:    5 * time.Second,
	}, rootDir
}

func splitAddr(t testing.TB, addr string) (string, int) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err, "failed to split %s", addr)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err, "invalid port in %s", addr)
	return host, port
}
