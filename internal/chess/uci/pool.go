package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
)

type PoolConfig struct {
	BinaryPath string
	MaxProcs   int
}

// Pool bounds the number of live engine processes. Every Acquire spawns a
// fresh process and every Release kills it, so no engine state outlives a
// single request.
type Pool struct {
	binaryPath string
	maxProcs   int64
	sem        *semaphore.Weighted

	spawned atomic.Int64

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("%w: binary path required", domain.ErrEngineUnavailable)
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("%w: stockfish binary check: %v", domain.ErrEngineUnavailable, err)
	}

	maxProcs := cfg.MaxProcs
	if maxProcs <= 0 {
		maxProcs = defaultMaxProcs()
	}

	return &Pool{
		binaryPath: cfg.BinaryPath,
		maxProcs:   int64(maxProcs),
		sem:        semaphore.NewWeighted(int64(maxProcs)),
		sessions:   make(map[*Session]struct{}),
	}, nil
}

var errPoolClosed = errors.New("engine pool closed")

// Acquire blocks until a process slot is free or ctx ends, then spawns
// and handshakes a new engine process.
func (p *Pool) Acquire(ctx context.Context, opt Options) (*Session, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for engine slot: %v", domain.ErrEngineTimeout, err)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.sem.Release(1)
		return nil, errPoolClosed
	}

	p.spawned.Add(1)
	session, err := NewSession(ctx, p.binaryPath, opt)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	p.mu.Lock()
	p.sessions[session] = struct{}{}
	p.mu.Unlock()
	return session, nil
}

// Release terminates and reaps session and frees its slot.
func (p *Pool) Release(session *Session) {
	if session == nil {
		return
	}

	p.mu.Lock()
	_, ok := p.sessions[session]
	delete(p.sessions, session)
	p.mu.Unlock()

	if err := session.Close(); err != nil {
		obslog.L().Warn("uci_session_close_failed", zap.Int("pid", session.PID()), zap.Error(err))
	}
	if ok {
		p.sem.Release(1)
	}
}

// Spawned reports how many engine processes have been started.
func (p *Pool) Spawned() int64 { return p.spawned.Load() }

// InUse reports how many engine processes are currently live.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Pool) MaxProcs() int { return int(p.maxProcs) }

// Close kills every live process. Later Acquire calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	live := make([]*Session, 0, len(p.sessions))
	for s := range p.sessions {
		live = append(live, s)
	}
	p.sessions = make(map[*Session]struct{})
	p.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		p.sem.Release(1)
	}
	return errors.Join(errs...)
}

func defaultMaxProcs() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
