package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/botctl/internal/core/domain"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitRuntime     = 1 // build, start, restart or daemon failure
	ExitInput       = 2 // invalid input or usage
	ExitAborted     = 3 // destructive action not confirmed
	ExitNotFound    = 4
	ExitPermission  = 5
	ExitBusy        = 6 // instance locked or claimed by another owner
	ExitConfigError = 7
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newCLI(os.Stdin, os.Stdout, os.Stderr).execute(ctx, os.Args[1:])
}

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, domain.ErrPermission):
		return ExitPermission
	case errors.Is(err, domain.ErrConfirmationAborted):
		return ExitAborted
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNameTaken):
		return ExitBusy
	case errors.Is(err, domain.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, domain.ErrInput):
		return ExitInput
	default:
		return ExitRuntime
	}
}
