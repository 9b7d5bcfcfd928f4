// Package main implements demandctl, the command-line front end of demandcast.
//
// demandctl trains, forecasts and computes indicators for a series read from
// a CSV file. By default it works locally against a model directory; with
// --server it drives a running forecaster over HTTP instead.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
