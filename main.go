// localforward opens SSH sessions and local port forwards described by
// one or more config files, and reconnects them on request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"localforward/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "[ERR] localforward: %v\n", err)
		os.Exit(1)
	}
}
