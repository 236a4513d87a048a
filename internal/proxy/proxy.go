// Package proxy is the client half of a remote interface: it builds
// transaction parcels and submits them on the calling thread.
package proxy

import (
	"errors"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/process"
	"github.com/danmuck/binderctl/internal/thread"
)

// Handle is a typed client for one remote object.
type Handle struct {
	remote     *binder.Remote
	descriptor string
}

func New(remote *binder.Remote, descriptor string) *Handle {
	return &Handle{remote: remote, descriptor: descriptor}
}

// FromObject adapts a reference read from a parcel. Local objects cannot be
// reached through the driver and are rejected.
func FromObject(obj binder.Object, descriptor string) (*Handle, error) {
	remote, ok := obj.(*binder.Remote)
	if !ok || remote == nil {
		return nil, binder.BadType
	}
	return New(remote, descriptor), nil
}

func (h *Handle) Remote() *binder.Remote { return h.remote }
func (h *Handle) Handle() uint32         { return h.remote.Handle() }
func (h *Handle) Descriptor() string     { return h.descriptor }
func (h *Handle) IsAlive() bool          { return h.remote.IsAlive() }

// PrepareTransact returns an empty request parcel, opened with the
// interface token when writeHeader is set.
func (h *Handle) PrepareTransact(ts *thread.State, writeHeader bool) (*binder.Parcel, error) {
	data := binder.NewParcelWithResolver(ts.Process())
	if writeHeader {
		if err := ts.WriteInterfaceToken(data, h.descriptor); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// SubmitTransact sends data and returns the reply. One-way calls return a
// nil reply.
func (h *Handle) SubmitTransact(ts *thread.State, code binder.TransactionCode, data *binder.Parcel, flags binder.TransactionFlags) (*binder.Parcel, error) {
	if !h.remote.IsAlive() {
		return nil, binder.DeadObject
	}
	reply, err := ts.Transact(h.remote.Handle(), code, data, flags)
	if err != nil {
		if errors.Is(err, binder.DeadObject) {
			h.remote.MarkDead()
		}
		return nil, err
	}
	return reply, nil
}

// Ping checks that the remote process is alive and serving.
func (h *Handle) Ping(ts *thread.State) error {
	data, err := h.PrepareTransact(ts, false)
	if err != nil {
		return err
	}
	_, err = h.SubmitTransact(ts, binder.PingTransaction, data, 0)
	return err
}

// InterfaceDescriptor asks the remote object which interface it serves.
func (h *Handle) InterfaceDescriptor(ts *thread.State) (string, error) {
	data, err := h.PrepareTransact(ts, false)
	if err != nil {
		return "", err
	}
	reply, err := h.SubmitTransact(ts, binder.InterfaceTransaction, data, 0)
	if err != nil {
		return "", err
	}
	return reply.ReadString()
}

// Acquire takes a strong driver reference on the handle.
func (h *Handle) Acquire(ts *thread.State) error {
	return ts.IncStrongHandle(h.remote.Handle(), h.remote)
}

func (h *Handle) Release(ts *thread.State) error {
	return ts.DecStrongHandle(h.remote.Handle())
}

type proxyDropper interface {
	DropProxy(t *thread.State, remote *binder.Remote) error
}

// Drop removes the proxy from its process's handle table and returns the
// references it took on entry. The handle must not be used afterwards.
func (h *Handle) Drop(ts *thread.State) error {
	dropper, ok := ts.Process().(proxyDropper)
	if !ok {
		return binder.InvalidOperation
	}
	return dropper.DropProxy(ts, h.remote)
}

type deathLinker interface {
	LinkToDeath(t *thread.State, remote *binder.Remote, r process.DeathRecipient) error
	UnlinkToDeath(t *thread.State, remote *binder.Remote, r process.DeathRecipient) error
}

// LinkToDeath registers r with the thread's process to hear about the death
// of the remote object.
func (h *Handle) LinkToDeath(ts *thread.State, r process.DeathRecipient) error {
	linker, ok := ts.Process().(deathLinker)
	if !ok {
		return binder.InvalidOperation
	}
	return linker.LinkToDeath(ts, h.remote, r)
}

func (h *Handle) UnlinkToDeath(ts *thread.State, r process.DeathRecipient) error {
	linker, ok := ts.Process().(deathLinker)
	if !ok {
		return binder.InvalidOperation
	}
	return linker.UnlinkToDeath(ts, h.remote, r)
}
