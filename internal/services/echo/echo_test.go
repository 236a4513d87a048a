package echo_test

import (
	"errors"
	"testing"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver/drivertest"
	"github.com/danmuck/binderctl/internal/services/echo"
	"github.com/danmuck/binderctl/internal/testutil/bindertest"
	"github.com/stretchr/testify/require"
)

func newEchoPair(t *testing.T) (*bindertest.Pair, *echo.Service, *echo.Proxy) {
	t.Helper()
	p := bindertest.NewPair(t)
	svc := echo.NewService()
	local := p.ServerProc.RegisterService(svc)
	remote, err := p.ClientProc.StrongProxyForHandle(p.Grant(local.ID()))
	require.NoError(t, err)
	return p, svc, echo.NewProxy(remote)
}

func TestEchoRoundTrip(t *testing.T) {
	p, _, client := newEchoPair(t)

	got, err := client.Echo(p.Client, "hello binder")
	require.NoError(t, err)
	require.Equal(t, "hello binder", got)

	got, err = client.Echo(p.Client, "ünïcødé ✓")
	require.NoError(t, err)
	require.Equal(t, "ünïcødé ✓", got)
}

func TestEchoEmptyMessageIsServiceSpecific(t *testing.T) {
	p, _, client := newEchoPair(t)

	_, err := client.Echo(p.Client, "")
	var st *binder.Status
	require.True(t, errors.As(err, &st))
	require.Equal(t, binder.ExceptionServiceSpecific, st.Exception)
	require.Equal(t, binder.StatusCode(echo.ErrEmptyMessage), st.Code)
	require.Equal(t, "empty message", st.Message)
}

func TestNotifyIsOneway(t *testing.T) {
	p, svc, client := newEchoPair(t)

	require.NoError(t, client.Notify(p.Client, "first"))
	require.NoError(t, client.Notify(p.Client, "second"))
	require.Equal(t, []string{"first", "second"}, svc.Notes())

	for _, s := range p.ClientDriver.Sent() {
		require.NotZero(t, s.Tx.Flags&binder.FlagOneway)
	}
}

func TestWhoAmISeesBridgedCaller(t *testing.T) {
	p, _, client := newEchoPair(t)

	caller, err := client.WhoAmI(p.Client)
	require.NoError(t, err)
	require.Equal(t, drivertest.BridgePID, caller.Pid)
	require.Equal(t, drivertest.BridgeUID, caller.Uid)
}

func TestBuiltinTransactions(t *testing.T) {
	p, _, client := newEchoPair(t)

	require.NoError(t, client.Handle().Ping(p.Client))
	desc, err := client.Handle().InterfaceDescriptor(p.Client)
	require.NoError(t, err)
	require.Equal(t, echo.Descriptor, desc)
}

func TestEchoRejectsForeignToken(t *testing.T) {
	p, _, client := newEchoPair(t)

	data := binder.NewParcel()
	require.NoError(t, p.Client.WriteInterfaceToken(data, "binderctl.INotEcho"))
	require.NoError(t, data.WriteString("x"))
	reply, err := client.Handle().SubmitTransact(p.Client, binder.FirstCallTransaction, data, 0)
	require.NoError(t, err)

	err = binder.ReadStatus(reply)
	require.ErrorIs(t, err, binder.ExceptionBadParcelable)
}
