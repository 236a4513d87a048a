package services

import (
	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/proxy"
	"github.com/danmuck/binderctl/internal/thread"
)

// ManagerClient calls a Manager through the driver.
type ManagerClient struct {
	h *proxy.Handle
}

func NewManagerClient(remote *binder.Remote) *ManagerClient {
	return &ManagerClient{h: proxy.New(remote, ManagerDescriptor)}
}

func (c *ManagerClient) Handle() *proxy.Handle { return c.h }

// GetService returns the named service, or nil when none is registered.
func (c *ManagerClient) GetService(ts *thread.State, name string) (binder.Object, error) {
	return c.lookup(ts, codeGetService, name)
}

func (c *ManagerClient) CheckService(ts *thread.State, name string) (binder.Object, error) {
	return c.lookup(ts, codeCheckService, name)
}

func (c *ManagerClient) lookup(ts *thread.State, code binder.TransactionCode, name string) (binder.Object, error) {
	data, err := c.h.PrepareTransact(ts, true)
	if err != nil {
		return nil, err
	}
	if err := data.WriteString(name); err != nil {
		return nil, err
	}
	reply, err := c.h.SubmitTransact(ts, code, data, 0)
	if err != nil {
		return nil, err
	}
	if err := binder.ReadStatus(reply); err != nil {
		return nil, err
	}
	return reply.ReadNullableBinder()
}

func (c *ManagerClient) AddService(ts *thread.State, name string, obj binder.Object) error {
	data, err := c.h.PrepareTransact(ts, true)
	if err != nil {
		return err
	}
	if err := data.WriteString(name); err != nil {
		return err
	}
	if err := data.WriteBinder(obj); err != nil {
		return err
	}
	reply, err := c.h.SubmitTransact(ts, codeAddService, data, 0)
	if err != nil {
		return err
	}
	return binder.ReadStatus(reply)
}

func (c *ManagerClient) ListServices(ts *thread.State) ([]string, error) {
	data, err := c.h.PrepareTransact(ts, true)
	if err != nil {
		return nil, err
	}
	reply, err := c.h.SubmitTransact(ts, codeListServices, data, 0)
	if err != nil {
		return nil, err
	}
	if err := binder.ReadStatus(reply); err != nil {
		return nil, err
	}
	return reply.ReadStringSlice()
}
