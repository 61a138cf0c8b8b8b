// Command raceworker-solve is a standalone worker binary, for deployments
// that prefer an explicit --worker-exec path over re-exec of the
// coordinator binary.
package main

import (
	"os"

	"github.com/tjper/raceworker/internal/coordinator/demo"
	"github.com/tjper/raceworker/internal/workerproc"
)

func main() {
	if err := workerproc.Run(os.Stdin, os.Stdout, demo.Registry()); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
