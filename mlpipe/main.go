// Command mlpipe builds, compiles and submits the declared ML pipelines.
//
// Configuration errors exit with status 2, runtime failures with status 1.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmdr := subcommands.NewCommander(flag.CommandLine, "mlpipe")
	register(cmdr, newApp(logger, os.Stdout))

	flag.Parse()
	os.Exit(int(cmdr.Execute(ctx)))
}
