// Command eqctl validates and evaluates payroll equations and matches
// shifts against pay rule windows from the command line.
package main

import (
	"os"

	"github.com/warp/payroll-engine/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
