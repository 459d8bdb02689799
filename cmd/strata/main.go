// Command strata is the package manager's CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/stratapm/strata/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.FormatError(err))
		os.Exit(cli.GetExitCode(err))
	}
}
