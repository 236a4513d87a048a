package driver

import (
	"testing"

	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// unopenedFD is above any per-process descriptor limit.
const unopenedFD = 1 << 24

func TestWriteReadOnInvalidDescriptor(t *testing.T) {
	testlog.Start(t)
	d := &Device{}
	d.fd.Store(unopenedFD)

	write := abi.AppendCommand(nil, abi.BCEnterLooper, nil)
	_, _, err := d.WriteRead(write, make([]byte, 32))
	require.ErrorIs(t, err, ErrBadFD)
	require.ErrorIs(t, err, unix.EBADF)
	require.False(t, Interrupted(err))

	require.ErrorIs(t, d.BecomeContextManager(), ErrBadFD)
}

func TestWriteReadAfterClose(t *testing.T) {
	testlog.Start(t)
	fd, err := unix.Open("/dev/null", unix.O_RDWR|unix.O_CLOEXEC, 0)
	require.NoError(t, err)
	d := &Device{}
	d.fd.Store(int32(fd))

	require.NoError(t, d.Close())
	require.Equal(t, -1, d.FD())
	require.NoError(t, d.Close())

	_, _, err = d.WriteRead(nil, make([]byte, 32))
	require.ErrorIs(t, err, ErrBadFD)
	require.ErrorIs(t, d.ThreadExit(), ErrBadFD)
}
