// Command raceworker is the coordinator binary. Invoked normally it runs
// the cobra CLI; invoked with cli.ReexecEnv set (as its own spawned
// workers are) it runs the worker loop instead, so a single binary can
// fill both roles.
package main

import (
	"os"

	"github.com/tjper/raceworker/internal/coordinator/cli"
)

func main() {
	if os.Getenv(cli.ReexecEnv) != "" {
		if err := cli.RunWorker(); err != nil {
			os.Stderr.WriteString(err.Error() + "\n")
			os.Exit(1)
		}
		return
	}

	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
