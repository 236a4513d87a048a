package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/testutil/testlog"
	"github.com/danmuck/binderctl/internal/thread"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEngineConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadEngineConfig(writeConfig(t, `metrics_addr = "127.0.0.1:9999"`))
	require.NoError(t, err)

	def := driver.DefaultConfig()
	require.Equal(t, def, cfg.Driver)
	require.Equal(t, thread.RestrictNone, cfg.CallRestriction)
	require.Equal(t, "127.0.0.1:9999", cfg.MetricsAddr)
	require.Zero(t, cfg.MaxLoopers)
}

func TestLoadEngineConfigOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadEngineConfig(writeConfig(t, `
driver_path = " /dev/vndbinder "
max_threads = 0
vm_size = 65536
max_loopers = 2
call_restriction = "error_if_not_oneway"
transcript_path = "/tmp/binder.cbor.zst"
log_level = "debug"
unknown_key = true
`))
	require.NoError(t, err)
	require.Equal(t, "/dev/vndbinder", cfg.Driver.Path)
	require.Equal(t, uint32(0), cfg.Driver.MaxThreads)
	require.Equal(t, 65536, cfg.Driver.VMSize)
	require.Equal(t, 2, cfg.MaxLoopers)
	require.Equal(t, thread.RestrictErrorIfNotOneway, cfg.CallRestriction)
	require.Equal(t, "/tmp/binder.cbor.zst", cfg.TranscriptPath)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEngineConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"empty driver path": `driver_path = ""`,
		"zero vm size":      `vm_size = 0`,
		"negative threads":  `max_threads = -1`,
		"negative loopers":  `max_loopers = -3`,
		"bad restriction":   `call_restriction = "sometimes"`,
		"bad level":         `log_level = "loud"`,
		"not toml":          `driver_path = `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadEngineConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}

	_, err := LoadEngineConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"client", "server"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		require.NoError(t, WriteTemplate(path, kind, false))
		require.Error(t, WriteTemplate(path, kind, false), "existing file must not be overwritten")
		require.NoError(t, WriteTemplate(path, kind, true))

		_, err := LoadEngineConfig(path)
		require.NoError(t, err, kind)
	}

	_, err := Template("mirage")
	require.Error(t, err)
}
