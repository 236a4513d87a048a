package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/binderctl/internal/config"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/logging"
	"github.com/danmuck/binderctl/internal/process"
	"github.com/danmuck/binderctl/internal/thread"
	"github.com/spf13/pflag"
)

var errUsage = errors.New("invalid usage")

type flagValues struct {
	configPath  string
	device      string
	restriction string
	transcript  string
	metricsAddr string
	logLevel    string
	maxLoopers  int
	output      string
	force       bool
}

type app struct {
	out io.Writer
	// openDriver is replaced in tests.
	openDriver func(driver.Config) (driver.Driver, error)
}

func newApp(out io.Writer) *app {
	return &app{
		out: out,
		openDriver: func(cfg driver.Config) (driver.Driver, error) {
			dev, err := driver.Open(cfg)
			if err != nil {
				return nil, err
			}
			return dev, nil
		},
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	var fv flagValues
	fs := newFlagSet(&fv)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printUsage(a.out, fs)
		}
		return err
	}
	if help, _ := fs.GetBool("help"); help {
		printUsage(a.out, fs)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(a.out, fs)
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, cmdArgs := rest[0], rest[1:]

	// commands that never touch the driver
	switch cmd {
	case "transcript":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("%w: transcript <file>", errUsage)
		}
		return a.transcript(cmdArgs[0])
	case "template":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("%w: template <client|server>", errUsage)
		}
		return a.template(cmdArgs[0], fv.output, fv.force)
	}

	cfg, err := resolveConfig(fs, fv)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		logging.SetLevel(cfg.LogLevel)
	}

	e, err := a.openEngine(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil {
			logging.Warnf("binderctl: close engine: %v", cerr)
		}
	}()

	switch cmd {
	case "ping":
		return a.ping(e, cmdArgs)
	case "interface":
		return a.iface(e, cmdArgs)
	case "list":
		return a.list(e)
	case "echo":
		return a.echo(e, cmdArgs)
	case "serve":
		return a.serve(ctx, e)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
}

func newFlagSet(fv *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("binderctl", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&fv.configPath, "config", "c", "", "engine config file (toml)")
	fs.StringVarP(&fv.device, "device", "d", "", "binder device path")
	fs.StringVar(&fv.restriction, "call-restriction", "", "none|error_if_not_oneway|fatal_if_not_oneway")
	fs.StringVar(&fv.transcript, "transcript", "", "record driver exchanges to this file")
	fs.StringVar(&fv.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	fs.StringVar(&fv.logLevel, "log-level", "", "trace|debug|info|warn|error|off")
	fs.IntVar(&fv.maxLoopers, "max-loopers", 0, "loopers spawned on driver request (serve)")
	fs.StringVarP(&fv.output, "output", "o", "", "template output path")
	fs.BoolVar(&fv.force, "force", false, "overwrite an existing template")
	fs.BoolP("help", "h", false, "show help")
	return fs
}

// resolveConfig layers explicit flags over the config file over defaults.
func resolveConfig(fs *pflag.FlagSet, fv flagValues) (config.EngineConfig, error) {
	cfg := config.DefaultEngineConfig()
	if fv.configPath != "" {
		loaded, err := config.LoadEngineConfig(fv.configPath)
		if err != nil {
			return config.EngineConfig{}, err
		}
		cfg = loaded
	}
	if fs.Changed("device") {
		cfg.Driver.Path = fv.device
	}
	if fs.Changed("call-restriction") {
		r, err := thread.ParseCallRestriction(fv.restriction)
		if err != nil {
			return config.EngineConfig{}, err
		}
		cfg.CallRestriction = r
	}
	if fs.Changed("transcript") {
		cfg.TranscriptPath = fv.transcript
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = fv.metricsAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = fv.logLevel
	}
	if fs.Changed("max-loopers") {
		cfg.MaxLoopers = fv.maxLoopers
	}
	if err := config.ValidateEngineConfig(cfg); err != nil {
		return config.EngineConfig{}, err
	}
	return cfg, nil
}

// engine is an opened process plus whatever wraps its driver.
type engine struct {
	cfg      config.EngineConfig
	proc     *process.State
	drv      driver.Driver
	recorder *driver.Recorder
	record   *os.File
}

func (a *app) openEngine(cfg config.EngineConfig) (*engine, error) {
	drv, err := a.openDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	e := &engine{cfg: cfg, drv: drv}

	var wrapped driver.Driver = drv
	if cfg.TranscriptPath != "" {
		f, err := os.Create(cfg.TranscriptPath)
		if err != nil {
			closeDriver(drv)
			return nil, fmt.Errorf("create transcript: %w", err)
		}
		rec, err := driver.NewRecorder(drv, f)
		if err != nil {
			f.Close()
			closeDriver(drv)
			return nil, err
		}
		e.record, e.recorder, wrapped = f, rec, rec
		logging.Infof("binderctl: recording driver exchanges to %s", cfg.TranscriptPath)
	}

	e.proc = process.New(wrapped,
		process.WithCallRestriction(cfg.CallRestriction),
		process.WithMaxLoopers(cfg.MaxLoopers),
	)
	return e, nil
}

func (e *engine) Close() error {
	var errs []error
	if e.recorder != nil {
		errs = append(errs, e.recorder.Close(), e.record.Close())
	}
	errs = append(errs, closeDriver(e.drv))
	return errors.Join(errs...)
}

func closeDriver(drv driver.Driver) error {
	if c, ok := drv.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
