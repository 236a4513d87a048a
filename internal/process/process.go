// Package process holds the state every thread of a binder process shares:
// the driver, the handle table, local objects, the context manager and
// death notification links.
package process

import (
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/logging"
	"github.com/danmuck/binderctl/internal/thread"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Option func(*State)

func WithCallRestriction(r thread.CallRestriction) Option {
	return func(s *State) { s.restriction.Store(int32(r)) }
}

// WithMaxLoopers bounds the looper threads started on driver request.
// Zero disables spawning.
func WithMaxLoopers(n int) Option {
	return func(s *State) { s.pool.SetLimit(n) }
}

type State struct {
	drv     driver.Driver
	objects *binder.Arena
	log     zerolog.Logger

	restriction atomic.Int32

	mu             sync.Mutex
	handles        map[uint32]*binder.Remote
	contextManager binder.Remotable
	obituaries     map[uint64]*obituary
	byHandle       map[uint32]*obituary
	nextCookie     uint64

	pool errgroup.Group
}

var _ thread.Process = (*State)(nil)

func New(drv driver.Driver, opts ...Option) *State {
	s := &State{
		drv:        drv,
		objects:    binder.NewArena(),
		log:        logging.With("process"),
		handles:    make(map[uint32]*binder.Remote),
		obituaries: make(map[uint64]*obituary),
		byHandle:   make(map[uint32]*obituary),
	}
	s.pool.SetLimit(0)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the binder device described by cfg.
func Open(cfg driver.Config, opts ...Option) (*State, error) {
	dev, err := driver.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(dev, opts...), nil
}

func (s *State) Driver() driver.Driver  { return s.drv }
func (s *State) Objects() *binder.Arena { return s.objects }

func (s *State) CallRestriction() thread.CallRestriction {
	return thread.CallRestriction(s.restriction.Load())
}

func (s *State) SetCallRestriction(r thread.CallRestriction) {
	s.restriction.Store(int32(r))
}

// NewThread returns transaction state for the calling goroutine's thread.
func (s *State) NewThread() *thread.State {
	return thread.New(s)
}

// StrongProxyForHandle returns the cached proxy for handle, replacing one
// that has died. A new proxy takes its references on a transient thread
// state, flushed before this returns.
func (s *State) StrongProxyForHandle(handle uint32) (*binder.Remote, error) {
	if r := s.cached(handle); r != nil {
		return r, nil
	}
	return s.ProxyForHandle(thread.New(s), handle)
}

// ProxyForHandle returns the cached proxy for handle. A proxy entering the
// table queues BC_INCREFS and BC_ACQUIRE on t; a dead proxy it replaces
// gives its references back first.
func (s *State) ProxyForHandle(t *thread.State, handle uint32) (*binder.Remote, error) {
	s.mu.Lock()
	old, ok := s.handles[handle]
	if ok && old.IsAlive() {
		s.mu.Unlock()
		return old, nil
	}
	r := binder.NewRemote(handle)
	s.handles[handle] = r
	s.mu.Unlock()

	if ok {
		if err := releaseHandle(t, handle); err != nil {
			s.log.Error().Err(err).Uint32("handle", handle).Msg("release replaced proxy")
		}
	}
	if err := acquireHandle(t, r); err != nil {
		s.mu.Lock()
		if s.handles[handle] == r {
			delete(s.handles, handle)
		}
		s.mu.Unlock()
		return nil, err
	}
	return r, nil
}

// DropProxy removes r from the handle table and gives its driver
// references back.
func (s *State) DropProxy(t *thread.State, r *binder.Remote) error {
	s.mu.Lock()
	cached := s.handles[r.Handle()] == r
	if cached {
		delete(s.handles, r.Handle())
	}
	s.mu.Unlock()
	if !cached {
		return binder.NameNotFound
	}
	return releaseHandle(t, r.Handle())
}

func (s *State) cached(handle uint32) *binder.Remote {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.handles[handle]; ok && r.IsAlive() {
		return r
	}
	return nil
}

func acquireHandle(t *thread.State, r *binder.Remote) error {
	if err := t.IncWeakHandle(r.Handle(), r); err != nil {
		return err
	}
	return t.IncStrongHandle(r.Handle(), r)
}

func releaseHandle(t *thread.State, handle uint32) error {
	if err := t.DecStrongHandle(handle); err != nil {
		return err
	}
	return t.DecWeakHandle(handle)
}

// ContextObject is the proxy for handle 0.
func (s *State) ContextObject() *binder.Remote {
	r, err := s.StrongProxyForHandle(0)
	if err != nil {
		s.log.Error().Err(err).Msg("context object references")
		return binder.NewRemote(0)
	}
	return r
}

// RegisterService makes svc addressable by remote processes.
func (s *State) RegisterService(svc binder.Remotable) *binder.Local {
	return s.objects.Register(svc)
}

type contextManagerDevice interface {
	BecomeContextManager() error
}

// SetContextManager makes svc the object behind handle 0 for every process
// on the driver.
func (s *State) SetContextManager(svc binder.Remotable) error {
	if dev, ok := s.drv.(contextManagerDevice); ok {
		if err := dev.BecomeContextManager(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.contextManager = svc
	s.mu.Unlock()
	s.log.Info().Str("descriptor", svc.Descriptor()).Msg("context manager set")
	return nil
}

func (s *State) ContextManager() binder.Remotable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextManager
}

// SpawnPooledThread starts a looper on a dedicated OS thread. It reports
// false when the looper limit is reached.
func (s *State) SpawnPooledThread(isMain bool) bool {
	return s.pool.TryGo(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		t := thread.New(s)
		s.log.Debug().Str("thread", t.ID().String()).Bool("main", isMain).Msg("looper started")
		return t.JoinLooper(isMain)
	})
}

func (s *State) SpawnLooper() {
	if !s.SpawnPooledThread(false) {
		s.log.Debug().Msg("spawn looper request ignored: looper limit reached")
	}
}

// Wait blocks until every pooled looper has exited.
func (s *State) Wait() error {
	return s.pool.Wait()
}

// Close releases the driver when it owns resources.
func (s *State) Close() error {
	if c, ok := s.drv.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
