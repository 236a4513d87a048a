// Package services hosts the service manager: a name directory of binder
// objects served as the context manager on handle 0.
package services

import (
	"slices"
	"sync"

	"github.com/danmuck/binderctl/internal/binder"
)

// ManagerDescriptor is the interface served on handle 0.
const ManagerDescriptor = "binderctl.IServiceManager"

const (
	codeGetService   = binder.FirstCallTransaction + 0
	codeCheckService = binder.FirstCallTransaction + 1
	codeAddService   = binder.FirstCallTransaction + 2
	codeListServices = binder.FirstCallTransaction + 3
)

// Registry stores binder objects by service name.
type Registry struct {
	repo map[string]binder.Object
	mu   sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{repo: make(map[string]binder.Object)}
}

// Register adds or replaces a service by name.
func (r *Registry) Register(name string, obj binder.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.repo[name] = obj
}

// All returns a snapshot of all registered services.
func (r *Registry) All() map[string]binder.Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]binder.Object, len(r.repo))
	for name, obj := range r.repo {
		out[name] = obj
	}
	return out
}

// Get returns a service by name.
func (r *Registry) Get(name string) (binder.Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.repo[name]
	return obj, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.repo))
	for name := range r.repo {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Manager serves a Registry over binder.
type Manager struct {
	registry *Registry
	// AllowAdd decides whether the caller may register services. Nil allows
	// everyone.
	AllowAdd func(uid uint32) bool
}

func NewManager(registry *Registry) *Manager {
	return &Manager{registry: registry}
}

func (m *Manager) Registry() *Registry { return m.registry }
func (m *Manager) Descriptor() string  { return ManagerDescriptor }

func (m *Manager) OnTransact(ctx binder.CallContext, code binder.TransactionCode, data, reply *binder.Parcel) error {
	switch code {
	case codeGetService, codeCheckService:
		if err := ctx.CheckInterface(data, ManagerDescriptor); err != nil {
			return err
		}
		name, err := data.ReadString()
		if err != nil {
			return err
		}
		obj, _ := m.registry.Get(name)
		if err := binder.WriteStatus(reply, nil); err != nil {
			return err
		}
		return reply.WriteNullableBinder(obj)

	case codeAddService:
		if err := ctx.CheckInterface(data, ManagerDescriptor); err != nil {
			return err
		}
		name, err := data.ReadString()
		if err != nil {
			return err
		}
		obj, err := data.ReadBinder()
		if err != nil {
			return err
		}
		if m.AllowAdd != nil && !m.AllowAdd(ctx.CallingUid()) {
			return binder.WriteStatus(reply, binder.NewException(binder.ExceptionSecurity, "add service denied for "+name))
		}
		m.registry.Register(name, obj)
		return binder.WriteStatus(reply, nil)

	case codeListServices:
		if err := ctx.CheckInterface(data, ManagerDescriptor); err != nil {
			return err
		}
		if err := binder.WriteStatus(reply, nil); err != nil {
			return err
		}
		return reply.WriteStringSlice(m.registry.Names())
	}
	return binder.UnknownTransaction
}
