package remotesync

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle position of a Session. It only moves forward.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics reports session, transfer and listing counters to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithBackend replaces the transport selected from Config.Protocol.
func WithBackend(backend Backend) Option {
	return func(s *Session) {
		s.backend = backend
	}
}

// WithLocalFileSystem replaces the host filesystem used for the local side.
func WithLocalFileSystem(fsys billy.Filesystem) Option {
	return func(s *Session) {
		s.local = NewLocalFS(fsys)
	}
}

// Session owns one remote connection and the local root it is compared
// against. All backend calls pass through the Session's lock, so a Session
// can be shared between goroutines but never runs two transport commands at
// once. Open one Session per concurrent transfer instead.
type Session struct {
	id       string
	cfg      Config
	backend  Backend
	local    *LocalFS
	resolver Resolver
	logger   *zap.Logger
	metrics  *Metrics

	mu      sync.Mutex
	state   State
	token   string
	cleanup runtime.Cleanup
}

// New returns an unconnected Session for cfg. The transport is selected
// once, here, from cfg.Protocol unless WithBackend supplies one.
func New(cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.backend == nil {
		backend, err := NewBackend(cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.backend = backend
	}
	if s.local == nil {
		s.local = NewLocalFS(nil)
	}

	s.logger = s.logger.With(
		zap.String("session", s.id),
		zap.String("protocol", string(s.backend.Protocol())),
		zap.String("addr", cfg.Addr()),
	)
	s.resolver = NewResolver(cfg.LocalRoot, cfg.RemoteRoot, s.backend.RemotePath)

	// Release the transport if the Session is dropped without Close.
	s.cleanup = runtime.AddCleanup(s, func(b Backend) { _ = b.Close() }, s.backend)

	return s, nil
}

// WithSession opens a Session, runs fn and closes the Session afterwards,
// whatever fn returns.
func WithSession(ctx context.Context, cfg Config, fn func(ctx context.Context, s *Session) error, opts ...Option) error {
	s, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

// ID returns the identifier used in the Session's log fields.
func (s *Session) ID() string {
	return s.id
}

// Config returns the Session's configuration with defaults applied.
func (s *Session) Config() Config {
	return s.cfg
}

// Protocol returns the protocol of the active transport.
func (s *Session) Protocol() Protocol {
	return s.backend.Protocol()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the authentication token, empty until Authenticate succeeds.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Connect opens the transport connection. It is a no-op once connected.
// A failure is fatal: the Session is closed and must be rebuilt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	switch s.state {
	case StateClosed:
		return opError("connect", s.cfg.Addr(), ErrConnection, ErrSessionClosed)
	case StateConnected, StateAuthenticated:
		return nil
	}

	if err := s.backend.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			s.failLocked("connect", err)
		}
		return opError("connect", s.cfg.Addr(), ErrConnection, err)
	}

	s.state = StateConnected
	s.logger.Debug("session connected")
	return nil
}

// Authenticate logs in, connecting first when the Session is still
// unconnected. It is a no-op once authenticated. A failure is fatal.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticateLocked(ctx)
}

func (s *Session) authenticateLocked(ctx context.Context) error {
	switch s.state {
	case StateClosed:
		return opError("authenticate", s.cfg.Addr(), ErrConnection, ErrSessionClosed)
	case StateAuthenticated:
		return nil
	case StateUnconnected:
		if err := s.connectLocked(ctx); err != nil {
			return err
		}
	}

	token, err := s.backend.Authenticate(ctx, s.cfg.User, s.cfg.Password)
	s.metrics.recordSession(s.backend.Protocol(), err)
	if err != nil {
		if ctx.Err() == nil {
			s.failLocked("authenticate", err)
		}
		return opError("authenticate", s.cfg.User+"@"+s.cfg.Addr(), ErrAuthentication, err)
	}

	s.token = token
	s.state = StateAuthenticated
	s.logger.Debug("session authenticated", zap.String("user", s.cfg.User))
	return nil
}

// Close releases the transport regardless of state. It is safe to call more
// than once and always returns nil; release errors have no remedy here.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Session) closeLocked() {
	_ = s.backend.Close()
	if s.state == StateClosed {
		return
	}
	s.cleanup.Stop()
	s.state = StateClosed
	s.token = ""
	s.logger.Debug("session closed")
}

func (s *Session) failLocked(op string, err error) {
	s.logger.Debug("session failed", zap.String("op", op), zap.Error(err))
	s.closeLocked()
}

// Ping checks that the authenticated connection still answers by stating the
// remote root.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fsys, root, err := s.targetLocked(ctx, "ping", Remote, "")
	if err != nil {
		return err
	}
	if _, err := fsys.Stat(ctx, root); err != nil && !isNotExist(err) {
		return opError("ping", s.cfg.Addr(), ErrConnection, err)
	}
	return nil
}

// Resolve returns the absolute addressable path of rel on source. Remote
// paths may embed the authentication token, so resolving on Remote
// authenticates first.
func (s *Session) Resolve(ctx context.Context, source Source, rel string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, name, err := s.targetLocked(ctx, "resolve", source, rel)
	return name, err
}

// targetLocked returns the filesystem for source and the resolved path of
// rel on it. Remote targets authenticate first.
func (s *Session) targetLocked(ctx context.Context, op string, source Source, rel string) (FileSystem, string, error) {
	if s.state == StateClosed {
		return nil, "", opError(op, s.cfg.Addr(), ErrConnection, ErrSessionClosed)
	}

	var fsys FileSystem
	switch source {
	case Local:
		fsys = s.local
	case Remote:
		if err := s.authenticateLocked(ctx); err != nil {
			return nil, "", err
		}
		fsys = s.backend
	default:
		return nil, "", opError(op, rel, ErrInvalidSource, fmt.Errorf("source %s", source))
	}

	name, err := s.resolver.Resolve(source, s.token, rel)
	if err != nil {
		return nil, "", err
	}
	return fsys, name, nil
}
