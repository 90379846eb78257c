// Command automata is the command-line interface to the automata engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/automata/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
