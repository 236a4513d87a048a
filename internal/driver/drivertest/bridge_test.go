package drivertest

import (
	"testing"

	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

// replyingBridge answers every forwarded transaction with a reply carrying
// server object id.
func replyingBridge(t *testing.T, id uint64) *Bridge {
	t.Helper()
	testlog.Start(t)
	b := &Bridge{Client: New(), Server: New()}
	b.Serve = func() error {
		obj := abi.FlatBinderObject{Type: abi.TypeBinder, Binder: id, Cookie: id}
		data := make([]byte, abi.SizeofFlatBinderObject)
		obj.MarshalBytes(data)
		offsets := abi.EncodeOffsets([]uint64{0})

		tx := abi.TransactionData{DataSize: uint64(len(data)), OffsetsSize: uint64(len(offsets))}
		tx.Buffer, _ = b.Server.Pin(data)
		tx.Offsets, _ = b.Server.Pin(offsets)
		_, _, err := b.Server.WriteRead(abi.AppendCommand(nil, abi.BCReply, tx.Bytes()), nil)
		return err
	}
	b.Install()
	return b
}

func clientWrite(t *testing.T, f *Fake, code uint32, payload []byte) {
	t.Helper()
	_, _, err := f.WriteRead(abi.AppendCommand(nil, code, payload), nil)
	require.NoError(t, err)
}

func transactTo(t *testing.T, f *Fake, handle uint32) {
	t.Helper()
	tx := abi.TransactionData{Code: 1}
	tx.SetHandle(handle)
	clientWrite(t, f, abi.BCTransaction, tx.Bytes())
}

// readAll drains the fake's queued return stream.
func readAll(t *testing.T, f *Fake) []abi.Command {
	t.Helper()
	var out []abi.Command
	for f.Pending() > 0 {
		buf := make([]byte, 512)
		_, n, err := f.WriteRead(nil, buf)
		require.NoError(t, err)
		require.NoError(t, abi.Walk(buf[:n], func(c abi.Command) error {
			out = append(out, c)
			return nil
		}))
	}
	return out
}

func replyBuffer(t *testing.T, cmds []abi.Command) uint64 {
	t.Helper()
	for _, c := range cmds {
		if c.Code == abi.BRReply {
			var tx abi.TransactionData
			_, err := tx.UnmarshalBytes(c.Payload)
			require.NoError(t, err)
			return tx.Buffer
		}
	}
	t.Fatal("no BR_REPLY in stream")
	return 0
}

func codes(cmds []abi.Command) []uint32 {
	out := make([]uint32, len(cmds))
	for i, c := range cmds {
		out[i] = c.Code
	}
	return out
}

func handlePayload(h uint32) []byte { return order.AppendUint32(nil, h) }

func TestBridgeHandleDiesWithUnacquiredBuffer(t *testing.T) {
	b := replyingBridge(t, 5)
	handle := uint32(HandleBase + 5)

	transactTo(t, b.Client, 0)
	buffer := replyBuffer(t, readAll(t, b.Client))
	require.True(t, b.Valid(handle), "the reply buffer holds the handle")

	clientWrite(t, b.Client, abi.BCFreeBuffer, order.AppendUint64(nil, buffer))
	require.False(t, b.Valid(handle))

	// the driver ignores reference commands for a handle that is gone
	clientWrite(t, b.Client, abi.BCAcquire, handlePayload(handle))
	strong, weak := b.Refs(handle)
	require.Zero(t, strong)
	require.Zero(t, weak)

	transactTo(t, b.Client, handle)
	require.Equal(t, []uint32{abi.BRFailedReply}, codes(readAll(t, b.Client)))
}

func TestBridgeAcquiredHandleOutlivesBuffer(t *testing.T) {
	b := replyingBridge(t, 5)
	handle := uint32(HandleBase + 5)

	transactTo(t, b.Client, 0)
	buffer := replyBuffer(t, readAll(t, b.Client))
	clientWrite(t, b.Client, abi.BCIncRefs, handlePayload(handle))
	clientWrite(t, b.Client, abi.BCAcquire, handlePayload(handle))
	clientWrite(t, b.Client, abi.BCFreeBuffer, order.AppendUint64(nil, buffer))

	require.True(t, b.Valid(handle))
	strong, weak := b.Refs(handle)
	require.Equal(t, 1, strong)
	require.Equal(t, 1, weak)

	// the owner heard about its first client reference
	readAll(t, b.Server)
	b.DeliverRefs()
	server := readAll(t, b.Server)
	require.Equal(t, []uint32{abi.BRIncRefs, abi.BRAcquire}, codes(server))
	var pc abi.PtrCookie
	_, err := pc.UnmarshalBytes(server[0].Payload)
	require.NoError(t, err)
	require.Equal(t, abi.PtrCookie{Ptr: 5, Cookie: 5}, pc)

	clientWrite(t, b.Client, abi.BCRelease, handlePayload(handle))
	clientWrite(t, b.Client, abi.BCDecRefs, handlePayload(handle))
	require.False(t, b.Valid(handle))
	b.DeliverRefs()
	require.Equal(t, []uint32{abi.BRRelease, abi.BRDecRefs}, codes(readAll(t, b.Server)))
}

func TestBridgeGrantedHandleForwards(t *testing.T) {
	b := replyingBridge(t, 5)
	handle := uint32(HandleBase + 9)
	b.Grant(handle)

	transactTo(t, b.Client, handle)
	cmds := readAll(t, b.Client)
	require.Equal(t, []uint32{abi.BRTransactionComplete, abi.BRReply}, codes(cmds))

	// the grant's notes ride ahead of the forwarded transaction
	require.Equal(t, []uint32{
		abi.BRIncRefs,
		abi.BRAcquire,
		abi.BRTransaction,
		abi.BRTransactionComplete,
	}, codes(readAll(t, b.Server)))
}
