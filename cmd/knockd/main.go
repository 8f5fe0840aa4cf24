// Command knockd runs the attention market: an HTTP server plus local
// administration and query commands over the same ledger.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/knock/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
