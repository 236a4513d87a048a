package thread

import (
	"sync"
	"testing"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/driver/drivertest"
	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
)

type fakeProc struct {
	drv         *drivertest.Fake
	objects     *binder.Arena
	ctxMgr      binder.Remotable
	restriction CallRestriction

	mu         sync.Mutex
	obituaries []uint64
	cleared    []uint64
	spawns     int
	proxies    []uint32
}

func (p *fakeProc) Driver() driver.Driver            { return p.drv }
func (p *fakeProc) Objects() *binder.Arena           { return p.objects }
func (p *fakeProc) ContextManager() binder.Remotable { return p.ctxMgr }
func (p *fakeProc) CallRestriction() CallRestriction { return p.restriction }

func (p *fakeProc) StrongProxyForHandle(h uint32) (*binder.Remote, error) {
	return binder.NewRemote(h), nil
}

// ProxyForHandle takes references on t the way the process table does for
// a handle it has not seen.
func (p *fakeProc) ProxyForHandle(t *State, h uint32) (*binder.Remote, error) {
	r := binder.NewRemote(h)
	p.mu.Lock()
	p.proxies = append(p.proxies, h)
	p.mu.Unlock()
	if err := t.IncWeakHandle(h, r); err != nil {
		return nil, err
	}
	if err := t.IncStrongHandle(h, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (p *fakeProc) SendObituary(t *State, cookie uint64) {
	p.mu.Lock()
	p.obituaries = append(p.obituaries, cookie)
	p.mu.Unlock()
}

func (p *fakeProc) ClearDeathNotificationDone(cookie uint64) {
	p.mu.Lock()
	p.cleared = append(p.cleared, cookie)
	p.mu.Unlock()
}

func (p *fakeProc) SpawnLooper() {
	p.mu.Lock()
	p.spawns++
	p.mu.Unlock()
}

func newTestState(t *testing.T) (*State, *fakeProc) {
	t.Helper()
	testlog.Start(t)
	proc := &fakeProc{drv: drivertest.New(), objects: binder.NewArena()}
	return New(proc), proc
}

// funcService adapts a closure to binder.Remotable.
type funcService struct {
	descriptor string
	fn         func(ctx binder.CallContext, code binder.TransactionCode, data, reply *binder.Parcel) error
}

func (s *funcService) Descriptor() string { return s.descriptor }

func (s *funcService) OnTransact(ctx binder.CallContext, code binder.TransactionCode, data, reply *binder.Parcel) error {
	return s.fn(ctx, code, data, reply)
}

func int32Bytes(v int32) []byte {
	p := binder.NewParcel()
	_ = p.WriteInt32(v)
	return p.Bytes()
}

func sentReplies(f *drivertest.Fake) []drivertest.Sent {
	var out []drivertest.Sent
	for _, s := range f.Sent() {
		if s.Code == abi.BCReply {
			out = append(out, s)
		}
	}
	return out
}
