package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/danmuck/binderctl/internal/binder"
	"github.com/danmuck/binderctl/internal/config"
	"github.com/danmuck/binderctl/internal/driver"
	"github.com/danmuck/binderctl/internal/logging"
	"github.com/danmuck/binderctl/internal/protocol/abi"
	"github.com/danmuck/binderctl/internal/proxy"
	"github.com/danmuck/binderctl/internal/services"
	"github.com/danmuck/binderctl/internal/services/echo"
	"github.com/danmuck/binderctl/internal/thread"
)

func parseHandle(args []string) (uint32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected one handle", errUsage)
	}
	h, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: handle %q: %v", errUsage, args[0], err)
	}
	return uint32(h), nil
}

// OS thread pinning, replaced in tests.
var (
	lockOSThread   = runtime.LockOSThread
	unlockOSThread = runtime.UnlockOSThread
)

// thread pins the calling goroutine to its OS thread for as long as the
// returned state is in use; the driver keys a thread's transactions on it.
// The caller runs the returned func when done.
func (e *engine) thread() (*thread.State, func()) {
	lockOSThread()
	return e.proc.NewThread(), unlockOSThread
}

func (a *app) handle(e *engine, ts *thread.State, args []string) (*proxy.Handle, error) {
	h, err := parseHandle(args)
	if err != nil {
		return nil, err
	}
	remote, err := e.proc.ProxyForHandle(ts, h)
	if err != nil {
		return nil, err
	}
	return proxy.New(remote, ""), nil
}

func (a *app) ping(e *engine, args []string) error {
	ts, done := e.thread()
	defer done()
	h, err := a.handle(e, ts, args)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := h.Ping(ts); err != nil {
		return fmt.Errorf("ping handle %d: %w", h.Handle(), err)
	}
	fmt.Fprintf(a.out, "handle %d alive (%s)\n", h.Handle(), time.Since(start).Round(time.Microsecond))
	return nil
}

func (a *app) iface(e *engine, args []string) error {
	ts, done := e.thread()
	defer done()
	h, err := a.handle(e, ts, args)
	if err != nil {
		return err
	}
	desc, err := h.InterfaceDescriptor(ts)
	if err != nil {
		return fmt.Errorf("interface of handle %d: %w", h.Handle(), err)
	}
	fmt.Fprintln(a.out, desc)
	return nil
}

func (a *app) list(e *engine) error {
	ts, done := e.thread()
	defer done()
	sm, err := a.manager(e, ts)
	if err != nil {
		return err
	}
	names, err := sm.ListServices(ts)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	for _, name := range names {
		fmt.Fprintln(a.out, name)
	}
	return nil
}

func (a *app) manager(e *engine, ts *thread.State) (*services.ManagerClient, error) {
	cm, err := e.proc.ProxyForHandle(ts, 0)
	if err != nil {
		return nil, fmt.Errorf("context object: %w", err)
	}
	return services.NewManagerClient(cm), nil
}

func (a *app) echo(e *engine, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: echo <service> <message>", errUsage)
	}
	ts, done := e.thread()
	defer done()
	sm, err := a.manager(e, ts)
	if err != nil {
		return err
	}
	obj, err := sm.GetService(ts, args[0])
	if err != nil {
		return fmt.Errorf("get service %s: %w", args[0], err)
	}
	if obj == nil {
		return fmt.Errorf("service %s: %w", args[0], binder.NameNotFound)
	}
	client, err := echo.FromObject(obj)
	if err != nil {
		return err
	}
	got, err := client.Echo(ts, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, got)
	return nil
}

// serve registers the service manager and an echo service, then loops on
// the main thread until ctx ends or the driver fails. Shutdown closes the
// device, which ends the main looper and every pooled one, and reports what
// they returned.
func (a *app) serve(ctx context.Context, e *engine) error {
	registry := services.NewRegistry()
	if err := e.proc.SetContextManager(services.NewManager(registry)); err != nil {
		return fmt.Errorf("become context manager: %w", err)
	}
	registry.Register("echo", e.proc.RegisterService(echo.NewService()))

	if e.cfg.MetricsAddr != "" {
		stop := startMetricsServer(e.cfg.MetricsAddr)
		defer stop()
	}

	done := make(chan error, 1)
	go func() {
		ts, unlock := e.thread()
		defer unlock()
		done <- ts.JoinLooper(true)
	}()
	logging.Infof("binderctl: serving %v on %s", registry.Names(), e.cfg.Driver.Path)

	var loopErr error
	select {
	case <-ctx.Done():
		logging.Infof("binderctl: shutting down")
		if err := closeDriver(e.drv); err != nil {
			logging.Warnf("binderctl: close device: %v", err)
		}
		loopErr = <-done
	case loopErr = <-done:
	}
	return errors.Join(looperExit(loopErr), looperExit(e.proc.Wait()))
}

// looperExit drops the error a looper returns when its device is closed
// under it.
func looperExit(err error) error {
	if errors.Is(err, binder.BadFd) || errors.Is(err, driver.ErrBadFD) {
		return nil
	}
	return err
}

func (a *app) transcript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, exchanges, err := driver.ReadTranscript(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "session %s fd=%d started %s\n", hdr.Session, hdr.FD, hdr.Started.Format(time.RFC3339Nano))

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, ex := range exchanges {
		at := time.Unix(0, ex.At).Sub(hdr.Started).Round(time.Microsecond)
		for _, side := range []struct {
			dir string
			buf []byte
		}{{"write", ex.Write}, {"read", ex.Read}} {
			cmds, err := abi.Commands(side.buf)
			if err != nil {
				fmt.Fprintf(tw, "#%d\t+%s\t%s\t%v\n", ex.Seq, at, side.dir, err)
			}
			for _, c := range cmds {
				fmt.Fprintf(tw, "#%d\t+%s\t%s\t%s\n", ex.Seq, at, side.dir, c)
			}
		}
		if ex.Err != "" {
			fmt.Fprintf(tw, "#%d\t+%s\terror\t%s\n", ex.Seq, at, ex.Err)
		}
	}
	return tw.Flush()
}

func (a *app) template(kind, output string, force bool) error {
	if output == "" {
		body, err := config.Template(kind)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, body)
		return nil
	}
	if err := config.WriteTemplate(output, kind, force); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s config template to %s\n", kind, output)
	return nil
}
