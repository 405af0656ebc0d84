package remotesync

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// mockFileInfo implements os.FileInfo for testing.
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// MockSFTPFile implements SFTPFile for testing. Writes land in the owning
// client's file table. Reads and writes fail once the file is closed.
type MockSFTPFile struct {
	content    []byte
	readOffset int
	onWrite    func([]byte)
	closed     atomic.Bool
}

func (f *MockSFTPFile) Read(p []byte) (n int, err error) {
	if f.closed.Load() {
		return 0, os.ErrClosed
	}
	if f.readOffset >= len(f.content) {
		return 0, io.EOF
	}
	n = copy(p, f.content[f.readOffset:])
	f.readOffset += n
	return n, nil
}

func (f *MockSFTPFile) Write(p []byte) (n int, err error) {
	if f.closed.Load() {
		return 0, os.ErrClosed
	}
	f.content = append(f.content, p...)
	if f.onWrite != nil {
		f.onWrite(f.content)
	}
	return len(p), nil
}

func (f *MockSFTPFile) Close() error {
	f.closed.Store(true)
	return nil
}

// MockSFTPClient implements SFTPClient for testing.
type MockSFTPClient struct {
	files    map[string][]byte
	dirs     map[string]bool
	links    map[string]string
	modTimes map[string]time.Time
	errors   map[string]error
	closed   bool
}

// NewMockSFTPClient creates a new mock SFTP client with an empty root.
func NewMockSFTPClient() *MockSFTPClient {
	return &MockSFTPClient{
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		links:    make(map[string]string),
		modTimes: make(map[string]time.Time),
		errors:   make(map[string]error),
	}
}

// Ensure MockSFTPClient implements SFTPClient.
var _ SFTPClient = (*MockSFTPClient)(nil)

// SetError sets an error to be returned for a specific method.
func (m *MockSFTPClient) SetError(method string, err error) {
	m.errors[method] = err
}

// SetFile sets a file, creating its parent directories.
func (m *MockSFTPClient) SetFile(p string, content []byte) {
	m.files[p] = content
	m.modTimes[p] = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = m.MkdirAll(path.Dir(p))
}

// SetSymlink makes p a link to target.
func (m *MockSFTPClient) SetSymlink(p, target string) {
	m.links[p] = target
}

func (m *MockSFTPClient) Open(p string) (SFTPFile, error) {
	if err := m.errors["Open"]; err != nil {
		return nil, err
	}
	content, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &MockSFTPFile{content: content}, nil
}

func (m *MockSFTPClient) Create(p string) (SFTPFile, error) {
	if err := m.errors["Create"]; err != nil {
		return nil, err
	}
	if !m.dirs[path.Dir(p)] {
		return nil, os.ErrNotExist
	}
	m.files[p] = []byte{}
	return &MockSFTPFile{onWrite: func(b []byte) { m.files[p] = append([]byte(nil), b...) }}, nil
}

func (m *MockSFTPClient) Remove(p string) error {
	if err := m.errors["Remove"]; err != nil {
		return err
	}
	if _, ok := m.files[p]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, p)
	return nil
}

func (m *MockSFTPClient) Stat(p string) (os.FileInfo, error) {
	if err := m.errors["Stat"]; err != nil {
		return nil, err
	}
	if target, ok := m.links[p]; ok {
		p = target
	}
	if m.dirs[p] {
		return &mockFileInfo{name: path.Base(p), mode: os.ModeDir | 0o755, isDir: true}, nil
	}
	content, ok := m.files[p]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &mockFileInfo{
		name:    path.Base(p),
		size:    int64(len(content)),
		mode:    0o644,
		modTime: m.modTimes[p],
	}, nil
}

func (m *MockSFTPClient) ReadDir(dir string) ([]os.FileInfo, error) {
	if err := m.errors["ReadDir"]; err != nil {
		return nil, err
	}
	if !m.dirs[dir] {
		return nil, os.ErrNotExist
	}

	var infos []os.FileInfo
	for p := range m.dirs {
		if p != dir && path.Dir(p) == dir {
			infos = append(infos, &mockFileInfo{name: path.Base(p), mode: os.ModeDir | 0o755, isDir: true})
		}
	}
	for p, content := range m.files {
		if path.Dir(p) == dir {
			infos = append(infos, &mockFileInfo{name: path.Base(p), size: int64(len(content)), mode: 0o644})
		}
	}
	for p := range m.links {
		if path.Dir(p) == dir {
			infos = append(infos, &mockFileInfo{name: path.Base(p), mode: os.ModeSymlink | 0o777})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (m *MockSFTPClient) MkdirAll(p string) error {
	if err := m.errors["MkdirAll"]; err != nil {
		return err
	}
	current := ""
	for _, segment := range strings.Split(strings.Trim(p, "/"), "/") {
		if segment == "" {
			continue
		}
		current += "/" + segment
		m.dirs[current] = true
	}
	return nil
}

func (m *MockSFTPClient) Close() error {
	if err := m.errors["Close"]; err != nil {
		return err
	}
	m.closed = true
	return nil
}
