// Command arrowlink runs one device of a two-device pointing link: it samples
// the local marker, exchanges poses with the peer and shows where the peer is.
//
//	arrowlink host [--addr 0.0.0.0:7420] [--transport tcp|ws] [--tui]
//	arrowlink join --addr 192.168.1.20:7420 [--tui]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "arrowlink:", err)
		os.Exit(1)
	}
}
