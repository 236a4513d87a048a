package driver_test

import (
	"bytes"
	"testing"

	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/driver/drivertest"
	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRecorderRoundTrip(t *testing.T) {
	testlog.Start(t)
	fake := drivertest.New()
	var buf bytes.Buffer
	rec, err := driver.NewRecorder(fake, &buf)
	require.NoError(t, err)
	require.Equal(t, fake.FD(), rec.FD())

	fake.Stream().Cmd(abi.BRNoop).Cmd(abi.BRTransactionComplete).Queue()
	write := abi.AppendCommand(nil, abi.BCEnterLooper, nil)
	read := make([]byte, 64)
	wc, rc, err := rec.WriteRead(write, read)
	require.NoError(t, err)
	require.Equal(t, len(write), wc)
	require.Equal(t, 8, rc)

	_, _, err = rec.WriteRead(nil, read)
	require.ErrorIs(t, err, drivertest.ErrNoInput)
	require.NoError(t, rec.Close())

	hdr, exchanges, err := driver.ReadTranscript(&buf)
	require.NoError(t, err)
	require.NotEmpty(t, hdr.Session)
	require.Equal(t, fake.FD(), hdr.FD)
	require.False(t, hdr.Started.IsZero())

	require.Len(t, exchanges, 2)
	require.Equal(t, uint64(1), exchanges[0].Seq)
	require.Equal(t, write, exchanges[0].Write)
	require.Equal(t, read[:rc], exchanges[0].Read)
	require.Empty(t, exchanges[0].Err)

	cmds, err := abi.Commands(exchanges[0].Read)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	require.Equal(t, abi.BRNoop, cmds[0].Code)

	require.Equal(t, uint64(2), exchanges[1].Seq)
	require.Nil(t, exchanges[1].Write)
	require.Equal(t, drivertest.ErrNoInput.Error(), exchanges[1].Err)
}

func TestReadTranscriptRejectsGarbage(t *testing.T) {
	_, _, err := driver.ReadTranscript(bytes.NewReader([]byte("not a transcript")))
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	fake := drivertest.New()
	addr := fake.Alloc([]byte{1, 2, 3, 4, 5})

	got, err := driver.Resolve(fake, addr+1, 3)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 3, 4}, got)

	got, err = driver.Resolve(fake, addr, 0)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = driver.Resolve(fake, addr, 6)
	require.ErrorIs(t, err, driver.ErrNotMapped)
	_, err = driver.Resolve(fake, addr+0x100000, 1)
	require.ErrorIs(t, err, driver.ErrNotMapped)
}

func TestInterrupted(t *testing.T) {
	require.True(t, driver.Interrupted(unix.EINTR))
	require.False(t, driver.Interrupted(unix.EBADF))
	require.False(t, driver.Interrupted(nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := driver.DefaultConfig()
	require.Equal(t, "/dev/binder", cfg.Path)
	require.NotZero(t, cfg.VMSize)
	require.Equal(t, uint32(15), cfg.MaxThreads)
}

func TestOpenMissingDevice(t *testing.T) {
	cfg := driver.DefaultConfig()
	cfg.Path = t.TempDir() + "/no-such-binder"
	_, err := driver.Open(cfg)
	require.Error(t, err)
}
