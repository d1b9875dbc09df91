// Package cli defines the jobd and jobctl command-line entrypoints.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tjper/jobd/internal/daemon"
)

var (
	socketFlag = flag.String("socket", "", "path to control-plane socket (default: XDG_RUNTIME_DIR/jobd/jobd.sock)")
)

const (
	ecSuccess = iota
	// ecUnrecognized indicates the subcommand was not recognized.
	ecUnrecognized
	// ecRun indicates the daemon's main loop exited with an error other
	// than the clean-shutdown signals.
	ecRun
	// ecInterrupted indicates the daemon unloaded every job and exited in
	// response to SIGINT. It is 1, the same value as ecUnrecognized.
	ecInterrupted = 1
)

const (
	// runSub is the subcommand used to run the daemon's main loop.
	runSub = "run"
)

// RunJobd is the entrypoint of the jobd CLI.
func RunJobd() int {
	flag.Parse()

	if len(os.Args) < 2 {
		return helpJobd("Too few arguments")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	last := len(os.Args) - 1
	switch v := os.Args[last]; v {
	case runSub:
		return runDaemon(ctx)
	default:
		return helpJobd(fmt.Sprintf("Unrecognized subcommand %q.", v))
	}
}

func runDaemon(ctx context.Context) int {
	opts := daemon.DefaultOptions()
	if *socketFlag != "" {
		opts.SocketPath = *socketFlag
	}

	err := daemon.Run(ctx, opts)
	switch {
	case err == nil:
		return ecSuccess
	case err == daemon.ErrInterrupted:
		return ecInterrupted
	default:
		fmt.Fprintf(os.Stderr, "jobd: %s\n", err)
		return ecRun
	}
}

// helpJobd outputs a general overview of the jobd executable to the user.
// The text argument may be used to add a detailed help message.
func helpJobd(text string) int {
	var b strings.Builder
	if text != "" {
		_, _ = b.WriteString(fmt.Sprintf("\nNotice: %s", text))
	}

	b.WriteString(
		`

Jobd supervises long-running and scheduled jobs described by manifest
files, reaping and restarting them per each job's scheduling policy.

Usage:
  jobd [global flags] command

Available Commands:
  run         Run the daemon's main loop in the foreground.

Global Flags:
  -socket     path to control-plane socket
`)
	fmt.Fprint(os.Stdout, b.String())
	return ecUnrecognized
}
