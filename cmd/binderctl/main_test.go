package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/driver/drivertest"
	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/danmuck/binderctl/internal/thread"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, fake *drivertest.Fake) (*app, *bytes.Buffer) {
	t.Helper()
	testlog.Start(t)
	var out bytes.Buffer
	a := newApp(&out)
	a.openDriver = func(driver.Config) (driver.Driver, error) { return fake, nil }
	return a, &out
}

func TestPingPrintsAlive(t *testing.T) {
	fake := drivertest.New()
	fake.Stream().Cmd(abi.BRTransactionComplete).Reply(drivertest.Txn{}).Queue()
	a, out := newTestApp(t, fake)

	require.NoError(t, a.run(context.Background(), []string{"ping", "5"}))
	require.Contains(t, out.String(), "handle 5 alive")

	sent := fake.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, uint32(5), sent[0].Tx.Handle())
	require.Equal(t, binder.PingTransaction, sent[0].Tx.Code)
}

func TestPingRejectsBadHandle(t *testing.T) {
	a, _ := newTestApp(t, drivertest.New())
	require.ErrorIs(t, a.run(context.Background(), []string{"ping", "nope"}), errUsage)
	require.ErrorIs(t, a.run(context.Background(), []string{"ping"}), errUsage)
}

func TestListPrintsServiceNames(t *testing.T) {
	reply := binder.NewParcel()
	require.NoError(t, binder.WriteStatus(reply, nil))
	require.NoError(t, reply.WriteStringSlice([]string{"echo", "media"}))

	fake := drivertest.New()
	fake.Stream().Cmd(abi.BRTransactionComplete).Reply(drivertest.Txn{Data: reply.Bytes()}).Queue()
	a, out := newTestApp(t, fake)

	require.NoError(t, a.run(context.Background(), []string{"list"}))
	require.Equal(t, "echo\nmedia\n", out.String())
	require.Equal(t, uint32(0), fake.Sent()[0].Tx.Handle())
}

func TestUnknownAndMissingCommands(t *testing.T) {
	a, _ := newTestApp(t, drivertest.New())
	require.ErrorIs(t, a.run(context.Background(), nil), errUsage)
	require.ErrorIs(t, a.run(context.Background(), []string{"frobnicate"}), errUsage)
	require.ErrorIs(t, a.run(context.Background(), []string{"echo", "only-one"}), errUsage)
}

func TestRecordedTranscriptDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ping.cbor.zst")
	fake := drivertest.New()
	fake.Stream().Cmd(abi.BRNoop).Cmd(abi.BRTransactionComplete).Reply(drivertest.Txn{}).Queue()
	a, _ := newTestApp(t, fake)
	require.NoError(t, a.run(context.Background(), []string{"--transcript", path, "ping", "0"}))

	var out bytes.Buffer
	b := newApp(&out)
	require.NoError(t, b.run(context.Background(), []string{"transcript", path}))
	text := out.String()
	require.Contains(t, text, "session ")
	require.Contains(t, text, "BC_TRANSACTION")
	require.Contains(t, text, "BR_NOOP")
	require.Contains(t, text, "BR_REPLY")
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	testlog.Start(t)
	cfgPath := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`driver_path = "/dev/from-file"
call_restriction = "error_if_not_oneway"
max_loopers = 2
`), 0o600))

	var fv flagValues
	fs := newFlagSet(&fv)
	require.NoError(t, fs.Parse([]string{"-c", cfgPath, "--max-loopers", "6"}))
	cfg, err := resolveConfig(fs, fv)
	require.NoError(t, err)
	require.Equal(t, "/dev/from-file", cfg.Driver.Path)
	require.Equal(t, thread.RestrictErrorIfNotOneway, cfg.CallRestriction)
	require.Equal(t, 6, cfg.MaxLoopers)

	fv = flagValues{}
	fs = newFlagSet(&fv)
	require.NoError(t, fs.Parse([]string{"-c", cfgPath, "-d", "/dev/from-flag", "--call-restriction", "none"}))
	cfg, err = resolveConfig(fs, fv)
	require.NoError(t, err)
	require.Equal(t, "/dev/from-flag", cfg.Driver.Path)
	require.Equal(t, thread.RestrictNone, cfg.CallRestriction)
	require.Equal(t, 2, cfg.MaxLoopers)

	fv = flagValues{}
	fs = newFlagSet(&fv)
	require.NoError(t, fs.Parse([]string{"--call-restriction", "sometimes"}))
	_, err = resolveConfig(fs, fv)
	require.Error(t, err)
}

func TestOpenUsesResolvedDevice(t *testing.T) {
	fake := drivertest.New()
	fake.Stream().Cmd(abi.BRTransactionComplete).Reply(drivertest.Txn{}).Queue()
	a, _ := newTestApp(t, fake)
	var seen driver.Config
	a.openDriver = func(cfg driver.Config) (driver.Driver, error) {
		seen = cfg
		return fake, nil
	}
	require.NoError(t, a.run(context.Background(), []string{"--device", "/dev/hwbinder", "ping", "1"}))
	require.Equal(t, "/dev/hwbinder", seen.Path)
}

func TestTemplateCommand(t *testing.T) {
	a, out := newTestApp(t, drivertest.New())
	require.NoError(t, a.run(context.Background(), []string{"template", "server"}))
	require.Contains(t, out.String(), "max_loopers")

	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, a.run(context.Background(), []string{"template", "client", "-o", path}))
	require.FileExists(t, path)
	require.Error(t, a.run(context.Background(), []string{"template", "client", "-o", path}))
	require.NoError(t, a.run(context.Background(), []string{"template", "client", "-o", path, "--force"}))
}

func TestMetricsRouter(t *testing.T) {
	testlog.Start(t)
	r := metricsRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"service":"binderctl"`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestClientCommandsPinTheirThread(t *testing.T) {
	var depth atomic.Int32
	lockOSThread = func() {
		depth.Add(1)
		runtime.LockOSThread()
	}
	unlockOSThread = func() {
		runtime.UnlockOSThread()
		depth.Add(-1)
	}
	t.Cleanup(func() {
		lockOSThread = runtime.LockOSThread
		unlockOSThread = runtime.UnlockOSThread
	})

	descriptor := binder.NewParcel()
	require.NoError(t, descriptor.WriteString("binderctl.test.IPinned"))
	names := binder.NewParcel()
	require.NoError(t, binder.WriteStatus(names, nil))
	require.NoError(t, names.WriteStringSlice([]string{"echo"}))

	cases := []struct {
		args  []string
		reply []byte
	}{
		{[]string{"ping", "3"}, nil},
		{[]string{"interface", "3"}, descriptor.Bytes()},
		{[]string{"list"}, names.Bytes()},
	}
	for _, tc := range cases {
		t.Run(tc.args[0], func(t *testing.T) {
			fake := drivertest.New()
			fake.Stream().Cmd(abi.BRTransactionComplete).Reply(drivertest.Txn{Data: tc.reply}).Queue()
			var unpinned []string
			fake.Responder = func(_ *drivertest.Fake, written []abi.Command) {
				for _, c := range written {
					if depth.Load() == 0 {
						unpinned = append(unpinned, abi.OpcodeName(c.Code))
					}
				}
			}
			a, _ := newTestApp(t, fake)

			require.NoError(t, a.run(context.Background(), tc.args))
			require.Empty(t, unpinned, "commands written from an unpinned goroutine")
			require.Zero(t, depth.Load())
		})
	}
}

func TestServeWaitsForPooledLoopers(t *testing.T) {
	fake := drivertest.New()
	fake.Stream().Cmd(abi.BRSpawnLooper).Queue()
	a, _ := newTestApp(t, fake)

	err := a.run(context.Background(), []string{"--max-loopers", "1", "serve"})
	// both loopers run dry on the scripted driver
	require.ErrorIs(t, err, drivertest.ErrNoInput)

	var registered, exited int
	for _, c := range fake.WrittenCodes() {
		switch c {
		case abi.BCRegisterLooper:
			registered++
		case abi.BCExitLooper:
			exited++
		}
	}
	require.Equal(t, 1, registered)
	require.Equal(t, 2, exited, "serve returned before the pooled looper exited")
}
