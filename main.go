// fluxctl - remote control client for networked fabrication devices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fluxctl/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fluxctl: %v\n", err)
		os.Exit(1)
	}
}
