// Package bindertest joins two in-memory processes through a bridged fake
// driver.
package bindertest

import (
	"testing"

	"github.com/danmuck/binderctl/internal/driver/drivertest"
	"github.com/danmuck/binderctl/internal/process"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/danmuck/binderctl/internal/thread"
)

// Pair is a client and a server process, one thread each. Every client
// transaction is served synchronously on the server thread.
type Pair struct {
	ClientDriver *drivertest.Fake
	ClientProc   *process.State
	Client       *thread.State

	ServerDriver *drivertest.Fake
	ServerProc   *process.State
	Server       *thread.State

	Bridge *drivertest.Bridge
}

func NewPair(t *testing.T) *Pair {
	t.Helper()
	testlog.Start(t)

	p := &Pair{
		ClientDriver: drivertest.New(),
		ServerDriver: drivertest.New(),
	}
	p.ClientProc = process.New(p.ClientDriver)
	p.Client = p.ClientProc.NewThread()
	p.ServerProc = process.New(p.ServerDriver)
	p.Server = p.ServerProc.NewThread()

	p.Bridge = &drivertest.Bridge{
		Client: p.ClientDriver,
		Server: p.ServerDriver,
		Serve:  p.Server.HandlePolledCommands,
	}
	p.Bridge.Install()
	return p
}

// Grant hands the client a reference to server object id without a reply
// carrying it, and returns the client's handle for it.
func (p *Pair) Grant(id uint64) uint32 {
	h := ClientHandle(id)
	p.Bridge.Grant(h)
	return h
}

// ClientHandle is the handle the client uses for server object id.
func ClientHandle(id uint64) uint32 {
	return uint32(drivertest.HandleBase + id)
}
