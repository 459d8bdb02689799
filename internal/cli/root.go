// Package cli wires the package manager's subcommands into a cobra root
// command, grounded on the teacher's own NewRootCommand/RootOptions shape
// (internal/cli/root.go in the teacher repo) but rebuilt around this
// repo's operations: install, rollback, history, and gc, instead of the
// teacher's compile/validate/run/invoke/replay/test/trace set.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratapm/strata/internal/pmerrors"
)

// Exit codes, mirroring the teacher's three-tier scheme: success, a
// well-formed domain failure (e.g. unsat resolution, missing config), and a
// command-usage error (bad flags or arguments, or any error outside the
// pmerrors taxonomy).
const (
	ExitSuccess      = 0
	ExitDomainError  = 1
	ExitCommandError = 2
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand builds the strata CLI's root command and every
// subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "strata - a source/binary package manager",
		Long:  "strata resolves, fetches, and atomically installs packages from a signed catalog.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", defaultConfigPath(), "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newInstallCommand(opts))
	cmd.AddCommand(newRollbackCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newGCCommand(opts))

	return cmd
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return home + "/.config/strata/config.yaml"
}

func (o *RootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// GetExitCode maps a returned error to a process exit code, following the
// teacher's ExitError pattern but keyed off pmerrors' domain taxonomy
// instead of a CLI-local error type: a well-formed domain error (resolver
// conflict, invalid state transition, etc.) is a clean ExitDomainError,
// while anything else is treated as an ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var pe *pmerrors.Error
	if errors.As(err, &pe) {
		return ExitDomainError
	}
	return ExitCommandError
}

func fail(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
