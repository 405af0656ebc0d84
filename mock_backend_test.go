package remotesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// mockBackend is an in-memory Backend with per-operation error injection.
// It refuses file operations until authenticated, like the real transports.
type mockBackend struct {
	local *LocalFS
	fs    billy.Filesystem

	mu            sync.Mutex
	protocol      Protocol
	password      string
	connected     bool
	authenticated bool
	connectCalls  int
	authCalls     int
	closeCalls    int
	shouldError   map[string]error
	modTimes      map[string]time.Time
}

// Ensure mockBackend implements Backend.
var _ Backend = (*mockBackend)(nil)

func newMockBackend() *mockBackend {
	fs := memfs.New()
	return &mockBackend{
		local:       NewLocalFS(fs),
		fs:          fs,
		protocol:    ProtocolSFTP,
		password:    testPassword,
		shouldError: make(map[string]error),
		modTimes:    make(map[string]time.Time),
	}
}

func (m *mockBackend) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldError[op] = err
}

func (m *mockBackend) SetFile(path string, content []byte) {
	if err := util.WriteFile(m.fs, path, content, 0o644); err != nil {
		panic(err)
	}
}

func (m *mockBackend) SetModTime(path string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modTimes[path] = t
}

func (m *mockBackend) calls() (connect, auth, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCalls, m.authCalls, m.closeCalls
}

func (m *mockBackend) fail(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.shouldError[op]; ok {
		return err
	}
	if op != "Connect" && op != "Authenticate" && !m.authenticated {
		return errors.New("not authenticated")
	}
	return nil
}

func (m *mockBackend) Protocol() Protocol {
	return m.protocol
}

func (m *mockBackend) Connect(_ context.Context) error {
	m.mu.Lock()
	m.connectCalls++
	m.mu.Unlock()

	if err := m.fail("Connect"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *mockBackend) Authenticate(_ context.Context, user, credential string) (string, error) {
	m.mu.Lock()
	m.authCalls++
	connected := m.connected
	m.mu.Unlock()

	if !connected {
		return "", errors.New("not connected")
	}
	if err := m.fail("Authenticate"); err != nil {
		return "", err
	}
	if credential != m.password {
		return "", fmt.Errorf("could not authenticate with username %s", user)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.authenticated = true
	return user + "@mock", nil
}

func (m *mockBackend) RemotePath(root, token, rel string) string {
	return JoinRemote(root, token, rel)
}

func (m *mockBackend) ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := m.fail("ReadDir"); err != nil {
		return nil, err
	}
	return m.local.ReadDir(ctx, dir)
}

func (m *mockBackend) Stat(ctx context.Context, name string) (Entry, error) {
	if err := m.fail("Stat"); err != nil {
		return Entry{}, err
	}
	entry, err := m.local.Stat(ctx, name)
	if err != nil {
		return Entry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.modTimes[name]; ok {
		entry.ModTime = t
	}
	return entry, nil
}

func (m *mockBackend) Retrieve(ctx context.Context, name string, w io.Writer) error {
	if err := m.fail("Retrieve"); err != nil {
		return err
	}
	return m.local.Retrieve(ctx, name, w)
}

func (m *mockBackend) Store(ctx context.Context, name string, r io.Reader) error {
	if err := m.fail("Store"); err != nil {
		return err
	}
	return m.local.Store(ctx, name, r)
}

func (m *mockBackend) MkdirAll(ctx context.Context, dir string) error {
	if err := m.fail("MkdirAll"); err != nil {
		return err
	}
	return m.local.MkdirAll(ctx, dir)
}

func (m *mockBackend) Remove(ctx context.Context, name string) error {
	if err := m.fail("Remove"); err != nil {
		return err
	}
	return m.local.Remove(ctx, name)
}

func (m *mockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	m.connected = false
	m.authenticated = false
	if err, ok := m.shouldError["Close"]; ok {
		return err
	}
	return nil
}
