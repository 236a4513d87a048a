// Package echo is a small interface in the shape generated stubs take: a
// client proxy and a native service sharing one descriptor and code table.
package echo

import (
	"sync"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/proxy"
	"github.com/danmuck/binderctl/internal/thread"
)

const Descriptor = "binderctl.IEcho"

const (
	codeEcho   = binder.FirstCallTransaction + 0
	codeNotify = binder.FirstCallTransaction + 1
	codeWhoAmI = binder.FirstCallTransaction + 2
)

// ErrEmptyMessage is the service-specific code returned for an empty echo.
const ErrEmptyMessage int32 = 1

// Caller is the identity the service saw for a call.
type Caller struct {
	Pid int32
	Uid uint32
}

func (c *Caller) WriteToParcel(p *binder.Parcel) error {
	if err := p.WriteInt32(c.Pid); err != nil {
		return err
	}
	return p.WriteUint32(c.Uid)
}

func (c *Caller) ReadFromParcel(p *binder.Parcel) error {
	var err error
	if c.Pid, err = p.ReadInt32(); err != nil {
		return err
	}
	c.Uid, err = p.ReadUint32()
	return err
}

func (c *Caller) Descriptor() string { return "binderctl.echo.Caller" }

// Proxy is the client side of IEcho.
type Proxy struct {
	h *proxy.Handle
}

func NewProxy(remote *binder.Remote) *Proxy {
	return &Proxy{h: proxy.New(remote, Descriptor)}
}

// FromObject adapts a reference returned by the service manager.
func FromObject(obj binder.Object) (*Proxy, error) {
	h, err := proxy.FromObject(obj, Descriptor)
	if err != nil {
		return nil, err
	}
	return &Proxy{h: h}, nil
}

func (p *Proxy) Handle() *proxy.Handle { return p.h }

func (p *Proxy) Echo(ts *thread.State, msg string) (string, error) {
	data, err := p.h.PrepareTransact(ts, true)
	if err != nil {
		return "", err
	}
	if err := data.WriteString(msg); err != nil {
		return "", err
	}
	reply, err := p.h.SubmitTransact(ts, codeEcho, data, 0)
	if err != nil {
		return "", err
	}
	if err := binder.ReadStatus(reply); err != nil {
		return "", err
	}
	return reply.ReadString()
}

// Notify delivers msg one-way.
func (p *Proxy) Notify(ts *thread.State, msg string) error {
	data, err := p.h.PrepareTransact(ts, true)
	if err != nil {
		return err
	}
	if err := data.WriteString(msg); err != nil {
		return err
	}
	_, err = p.h.SubmitTransact(ts, codeNotify, data, binder.FlagOneway)
	return err
}

func (p *Proxy) WhoAmI(ts *thread.State) (Caller, error) {
	data, err := p.h.PrepareTransact(ts, true)
	if err != nil {
		return Caller{}, err
	}
	reply, err := p.h.SubmitTransact(ts, codeWhoAmI, data, 0)
	if err != nil {
		return Caller{}, err
	}
	if err := binder.ReadStatus(reply); err != nil {
		return Caller{}, err
	}
	var c Caller
	err = binder.ReadParcelable(reply, &c)
	return c, err
}

// Service is the native side of IEcho.
type Service struct {
	mu    sync.Mutex
	notes []string
}

func NewService() *Service { return &Service{} }

func (s *Service) Descriptor() string { return Descriptor }

// Notes returns the messages received through Notify.
func (s *Service) Notes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notes...)
}

func (s *Service) OnTransact(ctx binder.CallContext, code binder.TransactionCode, data, reply *binder.Parcel) error {
	if code < binder.FirstCallTransaction || code > codeWhoAmI {
		return binder.UnknownTransaction
	}
	if err := ctx.CheckInterface(data, Descriptor); err != nil {
		return err
	}
	switch code {
	case codeEcho:
		msg, err := data.ReadString()
		if err != nil {
			return err
		}
		if msg == "" {
			return binder.NewServiceSpecific(ErrEmptyMessage, "empty message")
		}
		if err := binder.WriteStatus(reply, nil); err != nil {
			return err
		}
		return reply.WriteString(msg)
	case codeNotify:
		msg, err := data.ReadString()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.notes = append(s.notes, msg)
		s.mu.Unlock()
		return nil
	case codeWhoAmI:
		if err := binder.WriteStatus(reply, nil); err != nil {
			return err
		}
		return binder.WriteParcelable(reply, &Caller{Pid: ctx.CallingPid(), Uid: ctx.CallingUid()})
	}
	return binder.UnknownTransaction
}
