// binderctl talks to a binder driver from user space: it pings and
// inspects remote objects, serves a service manager with an echo service,
// and decodes recorded driver transcripts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/binderctl/internal/logging"
	"github.com/spf13/pflag"
)

const usage = `usage: binderctl [flags] <command> [args]

commands:
  ping <handle>              send a ping transaction
  interface <handle>         print the interface descriptor behind a handle
  list                       list services registered with the context manager
  echo <service> <message>   call IEcho.Echo on a registered service
  serve                      become context manager and serve "echo"
  transcript <file>          decode a recorded driver transcript
  template <client|server>   write a config template (see --output, --force)

flags:
`

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(os.Stdout)
	if err := a.run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "binderctl: %v\n", err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, usage)
	fs.SetOutput(w)
	fs.PrintDefaults()
}
