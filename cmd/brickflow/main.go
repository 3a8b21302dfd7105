package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"brickflow/internal/cli"
)

// main resolves every relative path against the working directory once,
// here, and hands a canonical invocation to the engine.
func main() {
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, err := cli.Run(ctx, os.Args[1:], dir, cli.Options{Stdout: os.Stdout, Stderr: os.Stderr})
	stop()
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintf(os.Stderr, "%s\n\n%s\n", invErr.Message, cli.Usage)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
	}
	os.Exit(result.ExitCode)
}
