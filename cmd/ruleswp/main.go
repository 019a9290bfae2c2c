package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ezachrisen/ruleswp/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Failures reported by a command have already been printed.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
