package binder

import (
	"os"
	"sync/atomic"

	"github.com/danmuck/binderctl/internal/protocol/abi"
)

var selfPid = os.Getpid

// Stability describes the compatibility promise of a transferred reference.
type Stability int32

const (
	StabilityLocal  Stability = 0
	StabilityVendor Stability = 0b000011
	StabilitySystem Stability = 0b001100
	StabilityVintf  Stability = 0b111111
)

// ObjectResolver turns flat object records back into references.
type ObjectResolver interface {
	StrongProxyForHandle(handle uint32) (*Remote, error)
	Objects() *Arena
}

// Object is a reference that can be flattened into a Parcel: a *Local or a
// *Remote.
type Object interface {
	IsRemote() bool
	flatten() abi.FlatBinderObject
}

// Local is a strong reference to an object serviced by this process. Its id
// is what the driver sees in place of a pointer.
type Local struct {
	id      uint64
	service Remotable
}

func (l *Local) ID() uint64         { return l.id }
func (l *Local) Service() Remotable { return l.service }
func (l *Local) Descriptor() string { return l.service.Descriptor() }
func (l *Local) IsRemote() bool     { return false }

func (l *Local) flatten() abi.FlatBinderObject {
	return abi.FlatBinderObject{
		Type:   abi.TypeBinder,
		Flags:  abi.FlatFlagAcceptsFDs,
		Binder: l.id,
		Cookie: l.id,
	}
}

// Remote is a strong reference to an object in another process, named by a
// driver handle.
type Remote struct {
	handle uint32
	dead   atomic.Bool
}

func NewRemote(handle uint32) *Remote { return &Remote{handle: handle} }

func (r *Remote) Handle() uint32 { return r.handle }
func (r *Remote) IsRemote() bool { return true }
func (r *Remote) IsAlive() bool  { return !r.dead.Load() }

// MarkDead records a delivered death notification. It reports whether this
// call performed the transition.
func (r *Remote) MarkDead() bool { return r.dead.CompareAndSwap(false, true) }

func (r *Remote) flatten() abi.FlatBinderObject {
	return abi.FlatBinderObject{
		Type:   abi.TypeHandle,
		Flags:  abi.FlatFlagAcceptsFDs,
		Binder: uint64(r.handle),
	}
}

// WriteBinder writes a non-null reference followed by its stability tag.
func (p *Parcel) WriteBinder(obj Object) error {
	if obj == nil {
		return UnexpectedNull
	}
	return p.WriteNullableBinder(obj)
}

// WriteNullableBinder writes obj, or the null record when obj is nil.
func (p *Parcel) WriteNullableBinder(obj Object) error {
	flat := abi.FlatBinderObject{Type: abi.TypeBinder}
	stability := StabilityLocal
	if obj != nil {
		flat = obj.flatten()
		stability = StabilitySystem
	}
	if err := p.WriteObject(flat); err != nil {
		return err
	}
	return p.WriteInt32(int32(stability))
}

// ReadBinder reads a non-null reference.
func (p *Parcel) ReadBinder() (Object, error) {
	obj, err := p.ReadNullableBinder()
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, UnexpectedNull
	}
	return obj, nil
}

// ReadNullableBinder reads a reference. Local records resolve through the
// arena, handle records through the resolver; nothing else is accepted.
func (p *Parcel) ReadNullableBinder() (Object, error) {
	flat, err := p.ReadObject()
	if err != nil {
		return nil, err
	}
	if _, err := p.ReadInt32(); err != nil {
		return nil, err
	}
	switch flat.Type {
	case abi.TypeBinder:
		if flat.IsNull() {
			return nil, nil
		}
		if p.resolver == nil {
			return nil, NoInit
		}
		local, err := p.resolver.Objects().Upgrade(flat.Binder)
		if err != nil {
			return nil, err
		}
		return local, nil
	case abi.TypeHandle:
		if p.resolver == nil {
			return nil, NoInit
		}
		remote, err := p.resolver.StrongProxyForHandle(flat.Handle())
		if err != nil {
			return nil, err
		}
		return remote, nil
	default:
		return nil, BadType
	}
}
