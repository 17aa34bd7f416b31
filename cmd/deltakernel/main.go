package main

import (
	"fmt"
	"os"

	"github.com/opsledger/deltakernel/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "deltakernel: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
