package remotesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("session pool closed")

// Pool keeps authenticated Sessions for reuse. Sessions are cached by a key
// derived from their connection parameters and leased exclusively: a
// Session handed out by Acquire is not handed out again until Release.
type Pool struct {
	mu      sync.Mutex
	idle    map[string][]*pooledSession
	leased  map[*Session]string
	maxIdle time.Duration
	opts    []Option
	closed  bool
	done    chan struct{}

	newSession func(Config, ...Option) (*Session, error)
}

type pooledSession struct {
	session  *Session
	lastUsed time.Time
}

// NewPool creates a Pool. Sessions idle for longer than maxIdle are closed
// by a background reaper; a non-positive maxIdle disables the reaper. opts
// are applied to every Session the pool creates.
func NewPool(maxIdle time.Duration, opts ...Option) *Pool {
	pool := &Pool{
		idle:       make(map[string][]*pooledSession),
		leased:     make(map[*Session]string),
		maxIdle:    maxIdle,
		opts:       opts,
		done:       make(chan struct{}),
		newSession: New,
	}

	if maxIdle > 0 {
		go pool.cleanupLoop()
	}

	return pool
}

// Acquire returns an authenticated Session for cfg, reusing an idle one
// when it still answers. The caller must call Release when done.
func (p *Pool) Acquire(ctx context.Context, cfg Config) (*Session, error) {
	key := p.sessionKey(cfg.WithDefaults())

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		candidates := p.idle[key]
		if len(candidates) == 0 {
			p.mu.Unlock()
			break
		}
		ps := candidates[len(candidates)-1]
		p.idle[key] = candidates[:len(candidates)-1]
		if len(p.idle[key]) == 0 {
			delete(p.idle, key)
		}
		p.leased[ps.session] = key
		p.mu.Unlock()

		if err := ps.session.Ping(ctx); err == nil {
			return ps.session, nil
		}
		p.discard(ps.session)
	}

	s, err := p.newSession(cfg, p.opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Authenticate(ctx); err != nil {
		s.Close()
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.Close()
		return nil, ErrPoolClosed
	}
	p.leased[s] = key
	return s, nil
}

// Release returns a leased Session to the pool. Sessions that are no longer
// authenticated are closed instead.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key, ok := p.leased[s]
	if !ok {
		return
	}
	delete(p.leased, s)

	if p.closed || s.State() != StateAuthenticated {
		s.Close()
		return
	}
	p.idle[key] = append(p.idle[key], &pooledSession{session: s, lastUsed: time.Now()})
}

func (p *Pool) discard(s *Session) {
	p.mu.Lock()
	delete(p.leased, s)
	p.mu.Unlock()
	s.Close()
}

// Close closes every Session, leased or idle, and stops the reaper.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)

	for key, sessions := range p.idle {
		for _, ps := range sessions {
			ps.session.Close()
		}
		delete(p.idle, key)
	}
	for s := range p.leased {
		s.Close()
		delete(p.leased, s)
	}
}

// CloseIdle closes Sessions that have been idle for longer than maxIdle.
func (p *Pool) CloseIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for key, sessions := range p.idle {
		kept := sessions[:0]
		for _, ps := range sessions {
			if now.Sub(ps.lastUsed) > p.maxIdle {
				ps.session.Close()
				continue
			}
			kept = append(kept, ps)
		}
		if len(kept) == 0 {
			delete(p.idle, key)
			continue
		}
		p.idle[key] = kept
	}
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idle int
	for _, sessions := range p.idle {
		idle += len(sessions)
	}

	return PoolStats{
		Total: idle + len(p.leased),
		InUse: len(p.leased),
		Idle:  idle,
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Total int
	InUse int
	Idle  int
}

func (p *Pool) sessionKey(cfg Config) string {
	h := sha256.New()

	h.Write([]byte(cfg.Protocol))
	fmt.Fprintf(h, ":%s:%d:", cfg.Host, cfg.Port)
	h.Write([]byte(cfg.User))

	if cfg.Password != "" {
		h.Write([]byte(":password:"))
		h.Write([]byte(cfg.Password))
	}
	if cfg.PrivateKey != "" {
		h.Write([]byte(":key:"))
		h.Write([]byte(cfg.PrivateKey))
	}
	if cfg.KeyPath != "" {
		h.Write([]byte(":keypath:"))
		h.Write([]byte(cfg.KeyPath))
	}

	h.Write([]byte(":roots:"))
	h.Write([]byte(cfg.LocalRoot))
	h.Write([]byte{0})
	h.Write([]byte(cfg.RemoteRoot))
	fmt.Fprintf(h, ":%t:%d:%q", cfg.Passive, cfg.MaxDepth, cfg.Exclude)

	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(max(p.maxIdle/2, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.CloseIdle()
		case <-p.done:
			return
		}
	}
}
